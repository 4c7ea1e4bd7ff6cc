// Package fees implements the Fee Accounting component: trading,
// borrow, funding, delta-neutrality, crank and referral fees.
//
// Trading-fee and funding-rate formulas are grounded directly in
// pkg/contracts/levana/evaluator/evaluator.go's ComputeFundingRates
// (ported from float64 to sdkmath.LegacyDec for production precision)
// and in original_source/packages/msg/src/contracts/market/fees.rs's
// calculate_trade_fee/calculate_trade_fee_open, including that file's
// literal unit-test vectors (reproduced in trading_test.go).
package fees

import (
	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
)

// Rates holds the fee-rate parameters relevant to trading-fee
// computation (a slice of the market Config).
type Rates struct {
	TradingFeeNotionalSize      sdkmath.LegacyDec
	TradingFeeCounterCollateral sdkmath.LegacyDec
}

// TradeFeeOpen computes the trading fee for a brand-new position:
// there is no "old" notional/counter-collateral, so the delta is the
// full new value (original's calculate_trade_fee_open).
//
// notionalSizeInCollateral is the position's notional size converted
// to collateral terms at the entry price (the teacher's
// Position.NotionalSizeInCollateral field) — the fee formula's deltas
// are collateral-denominated, not raw notional, so both arguments to
// TradeFeeUpdate live in the Collateral domain.
func TradeFeeOpen(r Rates, notionalSizeInCollateral decimal.Signed[decimal.CollateralTag], counterCollateral decimal.Collateral) decimal.Collateral {
	return TradeFeeUpdate(r,
		decimal.SignedZero[decimal.CollateralTag](), notionalSizeInCollateral,
		decimal.Zero[decimal.CollateralTag](), counterCollateral)
}

// TradeFeeUpdate computes the trading fee for a position-size or
// counter-collateral change:
//
//	Δ(|notional_size|)·f_notional + Δ(counter_collateral)·f_counter
//
// where both deltas are truncated at zero (original's
// calculate_trade_fee). notional sizes are passed in collateral terms.
func TradeFeeUpdate(
	r Rates,
	oldNotionalInCollateral, newNotionalInCollateral decimal.Signed[decimal.CollateralTag],
	oldCounter, newCounter decimal.Collateral,
) decimal.Collateral {
	notionalDelta := newNotionalInCollateral.Abs().SaturatingSub(oldNotionalInCollateral.Abs())
	counterDelta := newCounter.SaturatingSub(oldCounter)

	feeFromNotional := notionalDelta.Mul(r.TradingFeeNotionalSize)
	feeFromCounter := counterDelta.Mul(r.TradingFeeCounterCollateral)

	return feeFromNotional.Add(feeFromCounter)
}
