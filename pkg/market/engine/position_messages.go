package engine

import (
	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/deferred"
	"github.com/levana-engine/perpcore/pkg/market/fees"
	"github.com/levana-engine/perpcore/pkg/market/history"
	"github.com/levana-engine/perpcore/pkg/market/liquifunding"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/market/position"
	"github.com/levana-engine/perpcore/pkg/market/price"
)

// enqueue is the shared "validate at the wire boundary, then defer
// the rest" shape every position-lifecycle and limit-order message
// follows: build an Item, let the deferred store assign its id and
// run dedup, and hand the id back to the caller.
func (m *Market) enqueue(caller string, it deferred.Item) (market.DeferredExecId, error) {
	it.Owner = caller
	queued, err := m.Deferred.Enqueue(it, mtime.Now())
	if err != nil {
		return 0, err
	}
	return queued.Id, nil
}

// OpenPosition enqueues a new position for opening (slippage_assert,
// leverage, direction, stop_loss, take_profit); the actual
// position.Open call happens at crank time
// against a price published after this call.
func (m *Market) OpenPosition(caller string, collateral decimal.Collateral, p OpenPositionParams) (market.DeferredExecId, error) {
	if m.Paused {
		return 0, merrors.ErrAuth
	}
	params, err := encodeParams(p)
	if err != nil {
		return 0, err
	}
	return m.enqueue(caller, deferred.Item{
		Kind:       deferred.KindOpenPosition,
		TargetKind: deferred.TargetNone,
		Amount:     collateral,
		Params:     params,
	})
}

func (m *Market) executeOpenPosition(it deferred.Item, pp price.Point) error {
	p, err := decodeParams[OpenPositionParams](it.Params)
	if err != nil {
		return err
	}
	netOi, err := m.netOpenInterest(pp)
	if err != nil {
		return err
	}
	collateral, err := decimal.NewNonZero(p.Collateral)
	if err != nil {
		return err
	}
	if p.SlippageAssert != nil {
		if err := fees.AssertSlippage(p.SlippageAssert.Price, pp.PriceBase, p.SlippageAssert.Tolerance); err != nil {
			return err
		}
	}

	pos, tradingFee, err := position.Open(m.Positions, m.Liquidity, m.Cfg, m.Ident, pp, netOi, position.OpenParams{
		Owner:      it.Owner,
		Collateral: collateral,
		Leverage:   p.Leverage,
		Dir:        p.Dir,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
	})
	if err != nil {
		return err
	}
	if err := m.Liquifund.AdjustOpenInterest(pos.NotionalSize); err != nil {
		return err
	}
	_, err = m.recordHistory(history.TraderAction, history.Entry{
		Owner:     it.Owner,
		Kind:      "open_position",
		Timestamp: pp.Timestamp,
		Amounts: map[string]string{
			"position_id": idString(pos.Id),
			"collateral":  p.Collateral.String(),
			"trading_fee": tradingFee.String(),
		},
	})
	return err
}

// requireOwner loads pos and checks caller owns it, the shared guard
// every position-targeted message runs before enqueuing: it must be
// the position's owner, or nobody.
func (m *Market) requireOwner(caller string, id market.PositionId) (position.Position, error) {
	pos, err := m.Positions.Get(id)
	if err != nil {
		return position.Position{}, err
	}
	if err := assertIsOwnerOf(caller, pos.Owner); err != nil {
		return position.Position{}, err
	}
	return pos, nil
}

func (m *Market) enqueueCollateralUpdate(caller string, kind deferred.Kind, posId market.PositionId, amount decimal.Collateral) (market.DeferredExecId, error) {
	if _, err := m.requireOwner(caller, posId); err != nil {
		return 0, err
	}
	params, err := encodeParams(UpdateCollateralParams{PositionId: posId, Amount: amount})
	if err != nil {
		return 0, err
	}
	return m.enqueue(caller, deferred.Item{
		Kind:       kind,
		TargetKind: deferred.TargetPosition,
		PositionId: posId,
		Amount:     amount,
		Params:     params,
	})
}

// AddCollateralImpactLeverage backs UpdatePositionAddCollateralImpactLeverage.
func (m *Market) AddCollateralImpactLeverage(caller string, posId market.PositionId, amount decimal.Collateral) (market.DeferredExecId, error) {
	return m.enqueueCollateralUpdate(caller, deferred.KindUpdatePositionAddCollateralImpactLeverage, posId, amount)
}

// AddCollateralImpactSize backs UpdatePositionAddCollateralImpactSize.
func (m *Market) AddCollateralImpactSize(caller string, posId market.PositionId, amount decimal.Collateral) (market.DeferredExecId, error) {
	return m.enqueueCollateralUpdate(caller, deferred.KindUpdatePositionAddCollateralImpactSize, posId, amount)
}

// RemoveCollateralImpactLeverage backs UpdatePositionRemoveCollateralImpactLeverage.
func (m *Market) RemoveCollateralImpactLeverage(caller string, posId market.PositionId, amount decimal.Collateral) (market.DeferredExecId, error) {
	return m.enqueueCollateralUpdate(caller, deferred.KindUpdatePositionRemoveCollateralImpactLeverage, posId, amount)
}

// RemoveCollateralImpactSize backs UpdatePositionRemoveCollateralImpactSize.
func (m *Market) RemoveCollateralImpactSize(caller string, posId market.PositionId, amount decimal.Collateral) (market.DeferredExecId, error) {
	return m.enqueueCollateralUpdate(caller, deferred.KindUpdatePositionRemoveCollateralImpactSize, posId, amount)
}

// liquifundIfDue runs the caller-side half of the shared update
// pipeline position.ApplyUpdate expects: settle
// liquifunding first when due, so every structural update always
// starts from a freshly-settled position, then return the possibly
// updated position. If settlement finds the position insolvent it is
// closed here and the caller sees ErrPositionUpdate, since there is
// nothing left to update.
func (m *Market) liquifundIfDue(pos position.Position, pp price.Point) (position.Position, error) {
	if !liquifunding.Due(pos, pp) {
		return pos, nil
	}
	st, err := m.Liquifund.Get()
	if err != nil {
		return position.Position{}, err
	}
	out, err := liquifunding.Settle(m.Liquidity, m.Cfg, st, pos, pp)
	if err != nil {
		return position.Position{}, err
	}
	if out.Closing {
		if _, err := liquifunding.CloseInsolvent(m.Positions, m.Liquidity, out, pp); err != nil {
			return position.Position{}, err
		}
		return position.Position{}, merrors.ErrPositionUpdate
	}
	return out.Position, nil
}

func (m *Market) executeUpdate(it deferred.Item, pp price.Point, variant func(decimal.NonZero[decimal.CollateralTag]) position.Update) error {
	p, err := decodeParams[UpdateCollateralParams](it.Params)
	if err != nil {
		return err
	}
	pos, err := m.Positions.Get(p.PositionId)
	if err != nil {
		return err
	}
	pos, err = m.liquifundIfDue(pos, pp)
	if err != nil {
		return err
	}
	amount, err := decimal.NewNonZero(p.Amount)
	if err != nil {
		return err
	}
	updated, err := position.ApplyUpdate(m.Cfg, m.Liquidity, pos, pp, variant(amount))
	if err != nil {
		return err
	}
	if err := m.Positions.Save(updated); err != nil {
		return err
	}
	_, err = m.recordHistory(history.TraderAction, history.Entry{
		Owner:     it.Owner,
		Kind:      "update_collateral",
		Timestamp: pp.Timestamp,
		Amounts:   map[string]string{"position_id": idString(p.PositionId), "amount": p.Amount.String()},
	})
	return err
}

// UpdatePositionLeverage backs the same-named message.
func (m *Market) UpdatePositionLeverage(caller string, posId market.PositionId, leverage sdkmath.LegacyDec) (market.DeferredExecId, error) {
	if _, err := m.requireOwner(caller, posId); err != nil {
		return 0, err
	}
	params, err := encodeParams(UpdateLeverageParams{PositionId: posId, Leverage: leverage})
	if err != nil {
		return 0, err
	}
	return m.enqueue(caller, deferred.Item{
		Kind:       deferred.KindUpdatePositionLeverage,
		TargetKind: deferred.TargetPosition,
		PositionId: posId,
		Params:     params,
	})
}

func (m *Market) executeUpdateLeverage(it deferred.Item, pp price.Point) error {
	p, err := decodeParams[UpdateLeverageParams](it.Params)
	if err != nil {
		return err
	}
	pos, err := m.Positions.Get(p.PositionId)
	if err != nil {
		return err
	}
	pos, err = m.liquifundIfDue(pos, pp)
	if err != nil {
		return err
	}
	updated, err := position.ApplyUpdate(m.Cfg, m.Liquidity, pos, pp, position.UpdateLeverage{NewLeverage: p.Leverage})
	if err != nil {
		return err
	}
	if err := m.Positions.Save(updated); err != nil {
		return err
	}
	_, err = m.recordHistory(history.TraderAction, history.Entry{
		Owner:     it.Owner,
		Kind:      "update_leverage",
		Timestamp: pp.Timestamp,
		Amounts:   map[string]string{"position_id": idString(p.PositionId), "leverage": p.Leverage.String()},
	})
	return err
}

// SetTriggerOrder backs SetTriggerOrder and the wire-compatible
// UpdatePositionMaxGains/TakeProfitPrice/StopLossPrice variants: all
// three reduce to the same parameter set, so callers set only the
// field(s) that changed and leave the rest nil.
func (m *Market) SetTriggerOrder(caller string, posId market.PositionId, p SetTriggerOrderParams) (market.DeferredExecId, error) {
	if _, err := m.requireOwner(caller, posId); err != nil {
		return 0, err
	}
	p.PositionId = posId
	params, err := encodeParams(p)
	if err != nil {
		return 0, err
	}
	return m.enqueue(caller, deferred.Item{
		Kind:       deferred.KindSetTriggerOrder,
		TargetKind: deferred.TargetPosition,
		PositionId: posId,
		Params:     params,
	})
}

func (m *Market) executeSetTriggerOrder(it deferred.Item, pp price.Point) error {
	p, err := decodeParams[SetTriggerOrderParams](it.Params)
	if err != nil {
		return err
	}
	pos, err := m.Positions.Get(p.PositionId)
	if err != nil {
		return err
	}
	pos, err = m.liquifundIfDue(pos, pp)
	if err != nil {
		return err
	}
	updated, err := position.ApplyUpdate(m.Cfg, m.Liquidity, pos, pp, position.UpdateTriggers{
		StopLoss:            p.StopLoss,
		TakeProfitPriceBase: p.TakeProfit,
		MaxGains:            p.MaxGains,
	})
	if err != nil {
		return err
	}
	if err := m.Positions.Save(updated); err != nil {
		return err
	}
	_, err = m.recordHistory(history.TraderAction, history.Entry{
		Owner:     it.Owner,
		Kind:      "set_trigger_order",
		Timestamp: pp.Timestamp,
		Amounts:   map[string]string{"position_id": idString(p.PositionId)},
	})
	return err
}

// ClosePosition backs the ClosePosition message.
func (m *Market) ClosePosition(caller string, posId market.PositionId, slippageAssert *SlippageAssert) (market.DeferredExecId, error) {
	if _, err := m.requireOwner(caller, posId); err != nil {
		return 0, err
	}
	params, err := encodeParams(ClosePositionParams{PositionId: posId, SlippageAssert: slippageAssert})
	if err != nil {
		return 0, err
	}
	return m.enqueue(caller, deferred.Item{
		Kind:       deferred.KindClosePosition,
		TargetKind: deferred.TargetPosition,
		PositionId: posId,
		Params:     params,
	})
}

func (m *Market) executeClosePosition(it deferred.Item, pp price.Point) error {
	p, err := decodeParams[ClosePositionParams](it.Params)
	if err != nil {
		return err
	}
	pos, err := m.Positions.Get(p.PositionId)
	if err != nil {
		return err
	}
	pos, err = m.liquifundIfDue(pos, pp)
	if err != nil {
		// A liquifunding-triggered close already recorded the closed
		// position; nothing further for this message to do.
		if err == merrors.ErrPositionUpdate {
			return nil
		}
		return err
	}
	if p.SlippageAssert != nil {
		if err := fees.AssertSlippage(p.SlippageAssert.Price, pp.PriceBase, p.SlippageAssert.Tolerance); err != nil {
			return err
		}
	}

	closed, err := position.Close(m.Positions, m.Liquidity, pos, pp, position.CloseDirect)
	if err != nil {
		return err
	}
	if err := m.Liquifund.AdjustOpenInterest(closed.Position.NotionalSize.Negate()); err != nil {
		return err
	}
	_, err = m.recordHistory(history.TraderAction, history.Entry{
		Owner:     it.Owner,
		Kind:      "close_position",
		Timestamp: pp.Timestamp,
		Amounts:   map[string]string{"position_id": idString(p.PositionId), "payout": closed.Payout.String()},
	})
	return err
}
