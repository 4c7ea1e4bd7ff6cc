package fees

import (
	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
)

// CrankFeeUsd computes the USD-denominated crank fee charged at
// enqueue time: crank_fee_charged + crank_fee_surcharge *
// floor(queue_size/10), per
// original_source/contracts/market/src/state/deferred_execution.rs's
// defer_execution crank-fee computation.
func CrankFeeUsd(charged, surcharge decimal.Usd, queueSize uint64) decimal.Usd {
	steps := sdkmath.LegacyNewDec(int64(queueSize / 10))
	extra := surcharge.Mul(steps)
	return charged.Add(extra)
}

// Split is a three-way fee distribution across LP, xLP and protocol
// pools, grounded in original_source/packages/msg/src/contracts/market/fees.rs's
// FeeEvent{lp_amount, xlp_amount, protocol_amount}.
type Split struct {
	Lp        decimal.Collateral
	Xlp       decimal.Collateral
	Protocol  decimal.Collateral
	Referrer  decimal.Collateral
}

// SplitTradingFee routes a trading-fee charge to LP/xLP by the same
// weighting as borrow fees, minus a protocol cut, with an optional
// referral redirection: a referralRatio fraction of the
// LP-destined share is redirected to the referee's registered
// referrer instead of LP holders.
func SplitTradingFee(total decimal.Collateral, lpShare, xlpShare, xlpMultiplier, protocolCut, referralRatio sdkmath.LegacyDec, hasReferrer bool) Split {
	protocolAmt := total.Mul(protocolCut)
	remainder := total.SaturatingSub(protocolAmt)

	lpAmt, xlpAmt := SplitBorrowFee(remainder, lpShare, xlpShare, xlpMultiplier)

	var referrerAmt decimal.Collateral
	if hasReferrer && !referralRatio.IsZero() {
		referrerAmt = lpAmt.Mul(referralRatio)
		lpAmt = lpAmt.SaturatingSub(referrerAmt)
	}

	return Split{Lp: lpAmt, Xlp: xlpAmt, Protocol: protocolAmt, Referrer: referrerAmt}
}

// SplitCrankFee divides the charged crank fee between the cranker's
// reward and the protocol pool ("of the charged amount,
// crank_fee_reward accrues to the cranker wallet; the remainder
// enters protocol fees.").
func SplitCrankFee(charged decimal.Collateral, reward decimal.Collateral) (crankerReward, protocol decimal.Collateral) {
	if reward.GT(charged) {
		return charged, decimal.Zero[decimal.CollateralTag]()
	}
	return reward, charged.SaturatingSub(reward)
}
