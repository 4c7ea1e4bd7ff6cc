package fees

import (
	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
)

// BorrowRate computes the annualized borrow fee rate as a linear
// function of utilization (locked / (locked+unlocked)), clamped to
// [minAnnualized, maxAnnualized]. Reuses the teacher's
// pkg/math.Interpolate formula verbatim (y1 + (x-x1)*(y2-y1)/(x2-x1)
// with x1=0, x2=1), clamping utilization to [0,1] first so callers
// never need to pre-validate it.
func BorrowRate(locked, unlocked decimal.Collateral, minAnnualized, maxAnnualized sdkmath.LegacyDec) sdkmath.LegacyDec {
	total := locked.Add(unlocked)
	if total.IsZero() {
		return minAnnualized
	}
	utilization := locked.Ratio(total)

	zero := sdkmath.LegacyZeroDec()
	one := sdkmath.LegacyOneDec()
	if utilization.LT(zero) {
		utilization = zero
	}
	if utilization.GT(one) {
		utilization = one
	}

	return interpolate(utilization, zero, minAnnualized, one, maxAnnualized)
}

func interpolate(x, x1, y1, x2, y2 sdkmath.LegacyDec) sdkmath.LegacyDec {
	if x2.Equal(x1) {
		return y1
	}
	return y1.Add(x.Sub(x1).Mul(y2.Sub(y1)).Quo(x2.Sub(x1)))
}

// XlpMultiplier ramps from minMultiplier to maxMultiplier as xLP's
// share of total liquidity (total_xlp / (total_lp+total_xlp)) rises
// from 0 to 1.
func XlpMultiplier(totalLp, totalXlp decimal.LpToken, minMultiplier, maxMultiplier sdkmath.LegacyDec) sdkmath.LegacyDec {
	total := totalLp.Add(totalXlp)
	if total.IsZero() {
		return minMultiplier
	}
	share := totalXlp.Ratio(total)
	zero := sdkmath.LegacyZeroDec()
	one := sdkmath.LegacyOneDec()
	return interpolate(share, zero, minMultiplier, one, maxMultiplier)
}

// SplitBorrowFee divides an accrued borrow-fee amount between LP and
// xLP holders proportionally to the xLP multiplier-weighted shares,
// with any remainder (the protocol's cut is handled separately by the
// caller via SplitTradingFee-style routing) returned as the LP share.
func SplitBorrowFee(total decimal.Collateral, lpShare, xlpShare, xlpMultiplier sdkmath.LegacyDec) (lp, xlp decimal.Collateral) {
	weightedTotal := lpShare.Add(xlpShare.Mul(xlpMultiplier))
	if weightedTotal.IsZero() {
		return total, decimal.Zero[decimal.CollateralTag]()
	}
	xlpWeight := xlpShare.Mul(xlpMultiplier).Quo(weightedTotal)
	xlpAmt := total.Mul(xlpWeight)
	lpAmt := total.SaturatingSub(xlpAmt)
	return lpAmt, xlpAmt
}
