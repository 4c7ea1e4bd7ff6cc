// Package liquidation implements the trigger scanner: given a price
// window covered by one crank step, find the single
// highest-priority position or limit order that the price movement
// triggers — liquidation outranks take-profit, which outranks
// stop-loss, and among limit orders the one with the smallest,
// ascending OrderId wins ties within one price level.
//
// Grounded in original_source/contracts/market/src/state/order.rs's
// triggered-order scan and its stated precedence.
package liquidation

import (
	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/liquidity"
	"github.com/levana-engine/perpcore/pkg/market/liquifunding"
	"github.com/levana-engine/perpcore/pkg/market/order"
	"github.com/levana-engine/perpcore/pkg/market/position"
	"github.com/levana-engine/perpcore/pkg/market/price"
)

// Kind distinguishes what a scan found.
type Kind int

const (
	None Kind = iota
	Position
	LimitOrder
)

// Hit is the single highest-priority triggerable item found by a
// trigger scan (SettleAndCheck for positions, ScanLimitOrders for
// limit orders).
type Hit struct {
	Kind     Kind
	PosId    market.PositionId
	Reason   position.CloseReason
	OrderId  market.OrderId
	Order    order.Order
}

// SettleAndCheck liquifunds one position (if due) and then checks
// whether it must close, either for insolvency (Settle's own verdict)
// or because the price window crossed its stop-loss/take-profit
// (liquifunding settlement and trigger checks run together for a
// single position during one crank step). It does not mutate storage;
// the caller persists or closes.
func SettleAndCheck(liq *liquidity.Store, cfg market.Config, st liquifunding.State, pos position.Position, from, to price.Point) (liquifunding.Outcome, bool, error) {
	if !liquifunding.Due(pos, to) {
		if reason, hit := position.TriggerHit(pos, from.PriceBase, to.PriceBase); hit {
			return liquifunding.Outcome{Position: pos, Closing: true, Reason: reason}, true, nil
		}
		return liquifunding.Outcome{Position: pos}, false, nil
	}

	out, err := liquifunding.Settle(liq, cfg, st, pos, to)
	if err != nil {
		return liquifunding.Outcome{}, false, err
	}
	if out.Closing {
		return out, true, nil
	}
	if reason, hit := position.TriggerHit(out.Position, from.PriceBase, to.PriceBase); hit {
		out.Closing = true
		out.Reason = reason
		return out, true, nil
	}
	return out, false, nil
}

// ScanLimitOrders returns the single highest-priority limit order
// crossed by the price moving to toNotional, the price feed's
// notional-terms value matching the terms orders are indexed in:
// longs trigger on price falling to or below their
// trigger, shorts on price rising to or above theirs. Checks longs
// first, then shorts, matching original_source's scan order; callers
// that need strict temporal fairness across many crossed orders call
// this repeatedly, once per crank step, so each step only ever
// executes one.
func ScanLimitOrders(orders *order.Store, toNotional sdkmath.LegacyDec) (order.Order, bool, error) {
	if o, ok, err := orders.TriggeredLong(toNotional); err != nil {
		return order.Order{}, false, err
	} else if ok {
		return o, true, nil
	}
	return orders.TriggeredShort(toNotional)
}
