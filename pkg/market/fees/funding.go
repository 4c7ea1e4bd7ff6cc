package fees

import (
	sdkmath "cosmossdk.io/math"
)

// FundingRates are the annualized rates paid/received by the popular
// and unpopular sides of open interest.
type FundingRates struct {
	LongRate  sdkmath.LegacyDec // positive = long pays, negative = long receives
	ShortRate sdkmath.LegacyDec
}

// ComputeFundingRates is the production (LegacyDec) port of
// pkg/contracts/levana/evaluator/evaluator.go's ComputeFundingRates,
// implementing the rate formula exactly:
//
//	k = max(sensitivity, maxAnnualized·(L+S)/(sensitivity·cap))
//	popular  = min(cap, k·|L−S|/(L+S))
//	unpopular = −popular·popularInterest/unpopularInterest
//
// With zero interest on either side the rates are zero.
func ComputeFundingRates(longNotional, shortNotional, sensitivity, maxAnnualized, dnfSensitivity, dnfCap sdkmath.LegacyDec) FundingRates {
	total := longNotional.Add(shortNotional)
	if total.IsZero() {
		return FundingRates{LongRate: sdkmath.LegacyZeroDec(), ShortRate: sdkmath.LegacyZeroDec()}
	}

	diff := longNotional.Sub(shortNotional).Abs()

	// effectiveSensitivity = max(sensitivity, maxAnnualized*(L+S)/(dnfSensitivity*dnfCap))
	denom := dnfSensitivity.Mul(dnfCap)
	var scaled sdkmath.LegacyDec
	if denom.IsZero() {
		scaled = sdkmath.LegacyZeroDec()
	} else {
		scaled = maxAnnualized.Mul(total).Quo(denom)
	}
	effectiveSensitivity := sensitivity
	if scaled.GT(effectiveSensitivity) {
		effectiveSensitivity = scaled
	}

	rawPopular := effectiveSensitivity.Mul(diff).Quo(total)
	popular := rawPopular
	if popular.GT(maxAnnualized) {
		popular = maxAnnualized
	}

	var longRate, shortRate sdkmath.LegacyDec
	switch {
	case longNotional.GT(shortNotional):
		longRate = popular
		if shortNotional.IsZero() {
			shortRate = sdkmath.LegacyZeroDec()
		} else {
			shortRate = popular.Neg().Mul(longNotional).Quo(shortNotional)
		}
	case shortNotional.GT(longNotional):
		shortRate = popular
		if longNotional.IsZero() {
			longRate = sdkmath.LegacyZeroDec()
		} else {
			longRate = popular.Neg().Mul(shortNotional).Quo(longNotional)
		}
	default:
		longRate = sdkmath.LegacyZeroDec()
		shortRate = sdkmath.LegacyZeroDec()
	}

	return FundingRates{LongRate: longRate, ShortRate: shortRate}
}

// AccrueOverPeriod converts an annualized rate and an elapsed
// duration into the fee fraction applied to |notional_size| over that
// window, accrued over elapsed time against each
// position's notional size.
func AccrueOverPeriod(annualizedRate sdkmath.LegacyDec, elapsedSeconds, secondsPerYear int64) sdkmath.LegacyDec {
	if secondsPerYear == 0 {
		return sdkmath.LegacyZeroDec()
	}
	frac := sdkmath.LegacyNewDec(elapsedSeconds).Quo(sdkmath.LegacyNewDec(secondsPerYear))
	return annualizedRate.Mul(frac)
}
