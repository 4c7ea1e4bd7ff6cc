package market

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Config is the per-market parameter set. Field-for-field grounded in
// pkg/contracts/levana/market/types.go's Config struct (trimmed to
// the parameters this engine's components actually consume —
// migration/versioning and disabled-feature flags the teacher carries
// for a live chain deployment are not reproduced, since there is no
// migration system in scope here).
type Config struct {
	TradingFeeNotionalSize      sdkmath.LegacyDec `mapstructure:"trading_fee_notional_size"`
	TradingFeeCounterCollateral sdkmath.LegacyDec `mapstructure:"trading_fee_counter_collateral"`

	CrankExecs        uint32            `mapstructure:"crank_execs"`
	CrankFeeCharged   sdkmath.LegacyDec `mapstructure:"crank_fee_charged"`   // USD
	CrankFeeSurcharge sdkmath.LegacyDec `mapstructure:"crank_fee_surcharge"` // USD
	CrankFeeReward    sdkmath.LegacyDec `mapstructure:"crank_fee_reward"`    // collateral

	MaxLeverage sdkmath.LegacyDec `mapstructure:"max_leverage"`

	FundingRateSensitivity   sdkmath.LegacyDec `mapstructure:"funding_rate_sensitivity"`
	FundingRateMaxAnnualized sdkmath.LegacyDec `mapstructure:"funding_rate_max_annualized"`

	BorrowFeeRateMinAnnualized sdkmath.LegacyDec `mapstructure:"borrow_fee_rate_min_annualized"`
	BorrowFeeRateMaxAnnualized sdkmath.LegacyDec `mapstructure:"borrow_fee_rate_max_annualized"`
	BorrowFeeSensitivity       sdkmath.LegacyDec `mapstructure:"borrow_fee_sensitivity"`

	LiquifundingDelaySeconds     int64 `mapstructure:"liquifunding_delay_seconds"`
	LiquifundingDelayFuzzSeconds int64 `mapstructure:"liquifunding_delay_fuzz_seconds"`

	ProtocolTax          sdkmath.LegacyDec `mapstructure:"protocol_tax"`
	UnstakePeriodSeconds int64             `mapstructure:"unstake_period_seconds"`
	TargetUtilization    sdkmath.LegacyDec `mapstructure:"target_utilization"`

	MinXlpRewardsMultiplier sdkmath.LegacyDec `mapstructure:"min_xlp_rewards_multiplier"`
	MaxXlpRewardsMultiplier sdkmath.LegacyDec `mapstructure:"max_xlp_rewards_multiplier"`

	DeltaNeutralityFeeSensitivity sdkmath.LegacyDec `mapstructure:"delta_neutrality_fee_sensitivity"`
	DeltaNeutralityFeeCap         sdkmath.LegacyDec `mapstructure:"delta_neutrality_fee_cap"`
	DeltaNeutralityFeeTax         sdkmath.LegacyDec `mapstructure:"delta_neutrality_fee_tax"`

	MinimumDepositUsd sdkmath.LegacyDec `mapstructure:"minimum_deposit_usd"`
	MaxLiquidity      sdkmath.LegacyDec `mapstructure:"max_liquidity"`

	LiquidityCooldownSeconds int64             `mapstructure:"liquidity_cooldown_seconds"`
	ExposureMarginRatio      sdkmath.LegacyDec `mapstructure:"exposure_margin_ratio"`
	ReferralRewardRatio      sdkmath.LegacyDec `mapstructure:"referral_reward_ratio"`

	PriceUpdateTooOldSeconds int64             `mapstructure:"price_update_too_old_seconds"`
	UnpendLimit              uint32            `mapstructure:"unpend_limit"`
	LimitOrderFee            sdkmath.LegacyDec `mapstructure:"limit_order_fee"`
	StalenessSeconds         int64             `mapstructure:"staleness_seconds"`

	SecondsPerYear int64 `mapstructure:"seconds_per_year"`
}

func (c Config) LiquifundingDelay() time.Duration {
	return time.Duration(c.LiquifundingDelaySeconds) * time.Second
}

func (c Config) LiquidityCooldown() time.Duration {
	return time.Duration(c.LiquidityCooldownSeconds) * time.Second
}

func (c Config) MaxFeedAge() time.Duration {
	return time.Duration(c.StalenessSeconds) * time.Second
}

func (c Config) UnstakePeriod() time.Duration {
	return time.Duration(c.UnstakePeriodSeconds) * time.Second
}

// LiquifundingFuzz returns a deterministic jitter in [0,
// fuzz_seconds) derived from the position id, so every position's
// next_liquifunding doesn't land on the same crank step and load is
// smoothed across positions without needing real randomness.
func (c Config) LiquifundingFuzz(id uint64) time.Duration {
	if c.LiquifundingDelayFuzzSeconds <= 0 {
		return 0
	}
	return time.Duration(id%uint64(c.LiquifundingDelayFuzzSeconds)) * time.Second
}
