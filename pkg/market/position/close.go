package position

import (
	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market/liquidity"
	"github.com/levana-engine/perpcore/pkg/market/price"
)

// CloseReason attributes why a position closed.
type CloseReason int

const (
	CloseDirect CloseReason = iota
	CloseTakeProfit
	CloseStopLoss
	CloseLiquidation
)

func (r CloseReason) String() string {
	switch r {
	case CloseTakeProfit:
		return "take_profit"
	case CloseStopLoss:
		return "stop_loss"
	case CloseLiquidation:
		return "liquidation"
	default:
		return "direct"
	}
}

// ClosedPosition is the immutable snapshot written to history on
// close.
type ClosedPosition struct {
	Position Position
	Reason   CloseReason
	Payout   decimal.Collateral
	ClosedAt price.Point
}

// Close uses the price to compute payout, clamped between 0 and
// active_collateral+counter_collateral, unlocks counter_collateral
// minus realized gain back to the LP pool, and deletes the position.
func Close(store *Store, liq *liquidity.Store, pos Position, pp price.Point, reason CloseReason) (ClosedPosition, error) {
	pnl := computePnl(pos, pp)

	maxPayout := pos.ActiveCollateral.Add(pos.CounterCollateral)
	payoutSigned := decimal.FromUnsigned(pos.ActiveCollateral).Add(pnl)

	var payout decimal.Collateral
	switch {
	case payoutSigned.IsNegative():
		payout = decimal.Zero[decimal.CollateralTag]()
	case payoutSigned.Abs().GT(maxPayout):
		payout = maxPayout
	default:
		payout = payoutSigned.Abs()
	}

	// Unlocks counter_collateral minus the realized gain paid from it
	// back to LP.
	gainFromCounter := decimal.Zero[decimal.CollateralTag]()
	if payout.GT(pos.ActiveCollateral) {
		g, err := payout.Sub(pos.ActiveCollateral)
		if err == nil {
			gainFromCounter = g
		} else {
			gainFromCounter = pos.CounterCollateral
		}
	}
	returnToLp := pos.CounterCollateral.SaturatingSub(gainFromCounter)
	if err := liq.Unlock(returnToLp); err != nil {
		return ClosedPosition{}, err
	}

	if err := store.Delete(pos.Id); err != nil {
		return ClosedPosition{}, err
	}

	return ClosedPosition{Position: pos, Reason: reason, Payout: payout, ClosedAt: pp}, nil
}

// computePnl computes signed PnL in collateral terms from the
// entry-vs-current notional value.
func computePnl(pos Position, pp price.Point) decimal.Signed[decimal.CollateralTag] {
	currentValue := price.NotionalToCollateral(decimal.NewAmount[decimal.NotionalTag](pos.NotionalSize.Abs().Dec()), pp)
	entryValue := pos.NotionalSizeInCollateral.Abs()

	diff := currentValue.Dec().Sub(entryValue.Dec())
	if pos.Dir.Sign() < 0 {
		diff = diff.Neg()
	}
	return decimal.NewSigned[decimal.CollateralTag](diff)
}

// TriggerHit reports whether the position's stop-loss or take-profit
// was crossed by the price window [from, to] in base terms. When the
// window crosses both, take-profit wins.
func TriggerHit(pos Position, from, to sdkmath.LegacyDec) (CloseReason, bool) {
	lo, hi := from, to
	if lo.GT(hi) {
		lo, hi = hi, lo
	}

	tp := pos.TakeProfitPriceBase
	if tp.GTE(lo) && tp.LTE(hi) {
		return CloseTakeProfit, true
	}
	if pos.StopLossOverride != nil {
		sl := *pos.StopLossOverride
		if sl.GTE(lo) && sl.LTE(hi) {
			return CloseStopLoss, true
		}
	}
	return CloseDirect, false
}
