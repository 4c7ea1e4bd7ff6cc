package fees

import (
	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
)

// DeltaNeutralityFee computes the fee charged for a notional-size
// change of delta (collateral terms), as a function of
// (netOpenInterestBefore + delta/2) / sensitivity, capped at ±cap
// Returns the signed fee amount: positive means the
// trader pays, negative means the DNF fund pays the trader.
func DeltaNeutralityFee(netOpenInterestBefore, delta decimal.Signed[decimal.CollateralTag], sensitivity, cap sdkmath.LegacyDec) decimal.Signed[decimal.CollateralTag] {
	half := delta.Dec().Quo(sdkmath.LegacyNewDec(2))
	numerator := netOpenInterestBefore.Dec().Add(half)

	var rate sdkmath.LegacyDec
	if sensitivity.IsZero() {
		rate = sdkmath.LegacyZeroDec()
	} else {
		rate = numerator.Quo(sensitivity)
	}
	if rate.GT(cap) {
		rate = cap
	}
	neg := cap.Neg()
	if rate.LT(neg) {
		rate = neg
	}

	fee := rate.Mul(delta.Abs().Dec())
	return decimal.NewSigned[decimal.CollateralTag](fee)
}

// AssertSlippage implements the slippage-assert mechanism: aborts if
// the implied price shift (comparing the price used at enqueue time
// against the price used at execution time) exceeds the caller's
// tolerance.
func AssertSlippage(expected, actual sdkmath.LegacyDec, tolerance sdkmath.LegacyDec) error {
	if tolerance.IsZero() {
		return nil
	}
	diff := expected.Sub(actual).Abs()
	allowed := expected.Mul(tolerance)
	if diff.GT(allowed) {
		return merrors.ErrSlippageAssert
	}
	return nil
}

// DnfSplit siphons a configured tax fraction to the protocol; the
// remainder flows in/out of the DNF fund.
func DnfSplit(fee decimal.Signed[decimal.CollateralTag], tax sdkmath.LegacyDec) (protocol decimal.Signed[decimal.CollateralTag], fund decimal.Signed[decimal.CollateralTag]) {
	protocolAmt := decimal.NewSigned[decimal.CollateralTag](fee.Dec().Mul(tax))
	fundAmt := fee.Sub(protocolAmt)
	return protocolAmt, fundAmt
}
