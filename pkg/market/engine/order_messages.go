package engine

import (
	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/deferred"
	"github.com/levana-engine/perpcore/pkg/market/history"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/order"
	"github.com/levana-engine/perpcore/pkg/market/price"
)

// PlaceLimitOrder enqueues a new pending order; the order is
// only actually written to the price-indexed store once a fresh price
// point confirms it isn't already crossed.
func (m *Market) PlaceLimitOrder(caller string, p PlaceLimitOrderParams) (market.DeferredExecId, error) {
	if m.Paused {
		return 0, merrors.ErrAuth
	}
	params, err := encodeParams(p)
	if err != nil {
		return 0, err
	}
	return m.enqueue(caller, deferred.Item{
		Kind:       deferred.KindPlaceLimitOrder,
		TargetKind: deferred.TargetNone,
		Amount:     p.Collateral,
		Params:     params,
	})
}

func (m *Market) executePlaceLimitOrder(it deferred.Item, pp price.Point) error {
	p, err := decodeParams[PlaceLimitOrderParams](it.Params)
	if err != nil {
		return err
	}

	// A trigger price already crossed by the confirming price point
	// must not be placed as a standing order: mirrors OpenPosition's
	// immediate-execution semantics rather than silently stranding an
	// order nothing will ever scan past.
	crossedLong := p.Dir == market.Long && p.TriggerPriceBase.GTE(pp.PriceBase)
	crossedShort := p.Dir == market.Short && p.TriggerPriceBase.LTE(pp.PriceBase)
	if crossedLong || crossedShort {
		return merrors.ErrPositionUpdate
	}

	id, err := m.Orders.NextId()
	if err != nil {
		return err
	}
	crankFeeCollateral := price.UsdToCollateral(decimal.NewAmount[decimal.UsdTag](m.Cfg.CrankFeeCharged), pp)
	o := order.Order{
		Id:                 id,
		Owner:              it.Owner,
		TriggerPriceBase:   p.TriggerPriceBase,
		Collateral:         p.Collateral,
		Leverage:           p.Leverage,
		Dir:                p.Dir,
		StopLoss:           p.StopLoss,
		TakeProfit:         p.TakeProfit,
		CrankFeeCollateral: crankFeeCollateral,
		CrankFeeUsd:        decimal.NewAmount[decimal.UsdTag](m.Cfg.CrankFeeCharged),
	}
	if err := m.Orders.Place(o); err != nil {
		return err
	}
	_, err = m.recordHistory(history.LimitOrder, history.Entry{
		Owner:     it.Owner,
		Kind:      "place_limit_order",
		Timestamp: pp.Timestamp,
		Amounts:   map[string]string{"order_id": idString(id), "trigger_price_base": p.TriggerPriceBase.String()},
	})
	return err
}

// CancelLimitOrder backs the CancelLimitOrder message.
func (m *Market) CancelLimitOrder(caller string, orderId market.OrderId) (market.DeferredExecId, error) {
	o, err := m.Orders.Get(orderId)
	if err != nil {
		return 0, err
	}
	if o.Owner != caller {
		return 0, merrors.ErrAuth
	}
	params, err := encodeParams(CancelLimitOrderParams{OrderId: orderId})
	if err != nil {
		return 0, err
	}
	return m.enqueue(caller, deferred.Item{
		Kind:       deferred.KindCancelLimitOrder,
		TargetKind: deferred.TargetOrder,
		OrderId:    orderId,
		Amount:     o.Collateral,
		CrankFee:   o.CrankFeeCollateral,
		CrankFeeUsd: o.CrankFeeUsd,
		Params:     params,
	})
}

func (m *Market) executeCancelLimitOrder(it deferred.Item, pp price.Point) error {
	p, err := decodeParams[CancelLimitOrderParams](it.Params)
	if err != nil {
		return err
	}
	o, err := m.Orders.Get(p.OrderId)
	if err != nil {
		return err
	}
	if err := m.Orders.Remove(o); err != nil {
		return err
	}
	_, err = m.recordHistory(history.LimitOrder, history.Entry{
		Owner:     it.Owner,
		Kind:      "cancel_limit_order",
		Timestamp: pp.Timestamp,
		Amounts: map[string]string{
			"order_id":          idString(p.OrderId),
			"refund_collateral": o.Collateral.String(),
			"refund_crank_fee":  o.CrankFeeCollateral.String(),
		},
	})
	return err
}
