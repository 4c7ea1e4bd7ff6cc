// Package liquifunding implements the Liquifunding Engine: the
// market-wide funding accumulator and the per-position settlement
// that charges borrow fee, funding fee, and the pending crank fee
// reserve, then either returns the updated position or signals that it
// must close for insolvency.
//
// Grounded in original_source/contracts/market/src/state/liquifunding.rs
// for the settle-then-check pipeline: a
// market-wide accumulator (rather than a per-position loop over every
// other position) keeps settlement O(1): every position merely
// remembers the accumulator's value the last time it liquifunded, and
// settlement applies accumulator_now - accumulator_then to its own
// notional size.
package liquifunding

import (
	"encoding/json"

	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/fees"
	"github.com/levana-engine/perpcore/pkg/market/liquidity"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/market/position"
	"github.com/levana-engine/perpcore/pkg/market/price"
	"github.com/levana-engine/perpcore/pkg/store"
)

// State is the market-wide aggregate the funding-rate formula and the
// accumulator both depend on.
type State struct {
	LongNotional  decimal.Notional
	ShortNotional decimal.Notional

	// AccumulatorLong/Short are cumulative rate*time integrals since
	// market genesis, in the same units as a FundingRates annualized
	// rate times AccrueOverPeriod's fraction. A position's owed funding
	// since its last liquifunding is
	// notional_in_collateral * (accumulator_now - accumulator_then).
	AccumulatorLong  sdkmath.LegacyDec
	AccumulatorShort sdkmath.LegacyDec

	UpdatedAt mtime.Timestamp
}

const stateKey = "liquifunding/state"
const rateHistoryKey = "liquifunding/rate_history"

// maxRateSamples bounds the rate-history read model to a fixed-size
// ring so Advance's per-step write never grows without bound.
const maxRateSamples = 64

// Store persists State and exposes OpenInterest mutation hooks used by
// Open/Close/update call sites to keep LongNotional/ShortNotional
// current.
type Store struct {
	kv store.KV
}

func New(kv store.KV) *Store { return &Store{kv: kv} }

func (s *Store) Get() (State, error) {
	raw, err := s.kv.Get([]byte(stateKey))
	if err != nil {
		if err == store.ErrNotFound {
			return State{
				LongNotional:     decimal.Zero[decimal.NotionalTag](),
				ShortNotional:    decimal.Zero[decimal.NotionalTag](),
				AccumulatorLong:  sdkmath.LegacyZeroDec(),
				AccumulatorShort: sdkmath.LegacyZeroDec(),
			}, nil
		}
		return State{}, err
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, err
	}
	return st, nil
}

func (s *Store) Save(st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.kv.Set([]byte(stateKey), raw)
}

// AdjustOpenInterest updates the aggregate long/short notional when a
// position opens, closes, or changes size: the funding formula
// operates on these two aggregates. delta is signed in notional terms
// matching the position's own direction sign.
func (s *Store) AdjustOpenInterest(delta decimal.Signed[decimal.NotionalTag]) error {
	st, err := s.Get()
	if err != nil {
		return err
	}
	if delta.IsPositive() {
		st.LongNotional = st.LongNotional.Add(delta.Abs())
	} else if delta.IsNegative() {
		st.ShortNotional = st.ShortNotional.Add(delta.Abs())
	}
	return s.Save(st)
}

// Advance rolls the funding accumulator forward to now, using the
// rates implied by the current open-interest aggregates over the
// elapsed window. Called by the crank before
// settling any position so every position sees a consistent
// accumulator value for this crank pass.
func Advance(cfg market.Config, st State, now mtime.Timestamp) State {
	elapsed := now.Sub(st.UpdatedAt)
	if elapsed <= 0 {
		st.UpdatedAt = now
		return st
	}

	rates := fees.ComputeFundingRates(
		st.LongNotional.Dec(), st.ShortNotional.Dec(),
		cfg.FundingRateSensitivity, cfg.FundingRateMaxAnnualized,
		cfg.DeltaNeutralityFeeSensitivity, cfg.DeltaNeutralityFeeCap,
	)

	elapsedSeconds := int64(elapsed.Seconds())
	st.AccumulatorLong = st.AccumulatorLong.Add(fees.AccrueOverPeriod(rates.LongRate, elapsedSeconds, cfg.SecondsPerYear))
	st.AccumulatorShort = st.AccumulatorShort.Add(fees.AccrueOverPeriod(rates.ShortRate, elapsedSeconds, cfg.SecondsPerYear))
	st.UpdatedAt = now
	return st
}

// RateSample is one crank step's computed annualized funding rates,
// recorded so a read-model query can smooth the noisy per-step values
// (fees.SmoothRates) without ever feeding the smoothed number back
// into settlement itself.
type RateSample struct {
	At        mtime.Timestamp
	LongRate  sdkmath.LegacyDec
	ShortRate sdkmath.LegacyDec
}

// AppendRateSample records one crank step's rates, trimming the
// history to the most recent maxRateSamples entries.
func (s *Store) AppendRateSample(sample RateSample) error {
	raw, err := s.kv.Get([]byte(rateHistoryKey))
	var samples []RateSample
	if err == nil {
		if err := json.Unmarshal(raw, &samples); err != nil {
			return err
		}
	} else if err != store.ErrNotFound {
		return err
	}
	samples = append(samples, sample)
	if len(samples) > maxRateSamples {
		samples = samples[len(samples)-maxRateSamples:]
	}
	enc, err := json.Marshal(samples)
	if err != nil {
		return err
	}
	return s.kv.Set([]byte(rateHistoryKey), enc)
}

// RateHistory returns the recorded rate samples oldest-first.
func (s *Store) RateHistory() ([]RateSample, error) {
	raw, err := s.kv.Get([]byte(rateHistoryKey))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var samples []RateSample
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// SmoothedRates applies fees.SmoothRates to the recorded long/short
// rate histories independently, giving traders/estimators an EMA'd
// view of the funding rate without reacting to every single-block
// jump. period is the EMA window in samples.
func (s *Store) SmoothedRates(period int) (long, short sdkmath.LegacyDec, err error) {
	samples, err := s.RateHistory()
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	longVals := make([]float64, len(samples))
	shortVals := make([]float64, len(samples))
	for i, s := range samples {
		longVals[i], _ = s.LongRate.Float64()
		shortVals[i], _ = s.ShortRate.Float64()
	}
	return sdkmath.LegacyNewDecWithPrec(int64(fees.SmoothRates(longVals, period)*1e6), 6),
		sdkmath.LegacyNewDecWithPrec(int64(fees.SmoothRates(shortVals, period)*1e6), 6),
		nil
}

// Outcome is the result of settling one position: either
// the position stays open in updated form, or it must close for
// insolvency.
type Outcome struct {
	Position position.Position
	Closing  bool
	Reason   position.CloseReason
}

// Settle runs one position's liquifunding pass: accrue borrow fee,
// accrue funding fee via the accumulator delta, collect the pending
// crank fee reserve, recompute liquidation margin, and either return
// the updated position or flag it for liquidation close.
//
// It is the caller's responsibility to invoke this (and persist the
// result, or forward to position.Close with CloseLiquidation) whenever
// pos.NextLiquifunding <= pp.Timestamp; Settle itself does not check
// due-ness so it can also be used to force-settle at close time.
func Settle(liq *liquidity.Store, cfg market.Config, st State, pos position.Position, pp price.Point) (Outcome, error) {
	elapsedSeconds := int64(pp.Timestamp.Sub(pos.LiquifundedAt).Seconds())
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}

	pool, err := liq.Pool()
	if err != nil {
		return Outcome{}, err
	}
	borrowRate := fees.BorrowRate(pool.Locked, pool.Unlocked, cfg.BorrowFeeRateMinAnnualized, cfg.BorrowFeeRateMaxAnnualized)
	borrowOwed := pos.ActiveCollateral.Mul(fees.AccrueOverPeriod(borrowRate, elapsedSeconds, cfg.SecondsPerYear))

	var accumulatorDelta sdkmath.LegacyDec
	if pos.Dir == market.Long {
		accumulatorDelta = st.AccumulatorLong.Sub(pos.FundingAccumulatorAt)
	} else {
		accumulatorDelta = st.AccumulatorShort.Sub(pos.FundingAccumulatorAt)
	}
	fundingSigned := pos.NotionalSizeInCollateral.Abs().Dec().Mul(accumulatorDelta)

	crankFeeCollateral := price.UsdToCollateral(decimal.NewAmount[decimal.UsdTag](cfg.CrankFeeCharged), pp)

	active := pos.ActiveCollateral.Dec().Sub(borrowOwed.Dec())
	active = active.Sub(fundingSigned)
	active = active.Sub(crankFeeCollateral.Dec())

	if err := liq.AccrueXlpYield(borrowOwed); err != nil {
		return Outcome{}, err
	}

	pos.BorrowFee = pos.BorrowFee.Add(borrowOwed, price.CollateralToUsd(borrowOwed, pp))
	fundingAmt := decimal.NewAmount[decimal.CollateralTag](fundingSigned.Abs())
	pos.FundingFee = pos.FundingFee.Add(fundingAmt, price.CollateralToUsd(fundingAmt, pp))
	pos.PendingCrankFeeUsd = pos.PendingCrankFeeUsd.Add(decimal.NewAmount[decimal.UsdTag](cfg.CrankFeeCharged))
	pos.CrankFee = pos.CrankFee.Add(crankFeeCollateral, decimal.NewAmount[decimal.UsdTag](cfg.CrankFeeCharged))

	if pos.Dir == market.Long {
		pos.FundingAccumulatorAt = st.AccumulatorLong
	} else {
		pos.FundingAccumulatorAt = st.AccumulatorShort
	}
	pos.LiquifundedAt = pp.Timestamp
	pos.NextLiquifunding = pp.Timestamp.Add(cfg.LiquifundingDelay() + cfg.LiquifundingFuzz(uint64(pos.Id)))

	if !active.IsPositive() {
		return Outcome{Position: pos, Closing: true, Reason: position.CloseLiquidation}, nil
	}
	pos.ActiveCollateral = decimal.NewAmount[decimal.CollateralTag](active)

	margin := recomputeLiquidationMargin(cfg, pos, pp)
	pos.LiquidationMargin = margin

	if pos.ActiveCollateral.LTE(margin.Total()) {
		return Outcome{Position: pos, Closing: true, Reason: position.CloseLiquidation}, nil
	}

	return Outcome{Position: pos}, nil
}

// recomputeLiquidationMargin re-derives the one-period fee reserve at
// the position's current state, mirroring position.Open's
// computeLiquidationMargin (unexported there; duplicated here at the
// package boundary rather than exported solely for this call, since
// the two packages must not import each other to avoid a cycle between
// position and liquifunding).
func recomputeLiquidationMargin(cfg market.Config, pos position.Position, pp price.Point) position.LiquidationMargin {
	elapsed := cfg.LiquifundingDelaySeconds

	borrow := pos.ActiveCollateral.Mul(fees.AccrueOverPeriod(cfg.BorrowFeeRateMaxAnnualized, elapsed, cfg.SecondsPerYear))
	funding := pos.NotionalSizeInCollateral.Abs().Mul(fees.AccrueOverPeriod(cfg.FundingRateMaxAnnualized, elapsed, cfg.SecondsPerYear))
	dnf := pos.DeltaNeutralityFee.Collateral
	crank := decimal.NewAmount[decimal.CollateralTag](cfg.CrankFeeCharged).Quo(pp.PriceUsd)
	exposure := pos.NotionalSizeInCollateral.Abs().Mul(cfg.ExposureMarginRatio)

	return position.LiquidationMargin{
		Borrow:          borrow,
		Funding:         funding,
		DeltaNeutrality: dnf,
		Crank:           crank,
		Exposure:        exposure,
	}
}

// Due reports whether pos needs settlement at pp's timestamp.
func Due(pos position.Position, pp price.Point) bool {
	return !pos.NextLiquifunding.After(pp.Timestamp)
}

// CloseInsolvent runs position.Close for a Settle outcome that came
// back Closing, routing through the liquidity unlock/delete pipeline
// exactly like any other close: liquidation closes the
// position using the same payout/unlock logic as a direct close.
func CloseInsolvent(store *position.Store, liq *liquidity.Store, out Outcome, pp price.Point) (position.ClosedPosition, error) {
	if !out.Closing {
		return position.ClosedPosition{}, merrors.ErrPositionUpdate
	}
	return position.Close(store, liq, out.Position, pp, out.Reason)
}
