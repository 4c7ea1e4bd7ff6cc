// Package position implements the Position Store & Updates component:
// the Position record, its storage, Open, Close, and the six update
// variants, each running liquifunding first, then the structural
// change, then invariant validation.
//
// Grounded field-for-field in pkg/contracts/levana/market/types.go's
// Position struct, and in
// original_source/contracts/market/src/state/position/update.rs for
// the shared pre/post-validation pipeline the six update variants share.
package position

import (
	"encoding/json"

	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/store"
)

// FeeTotals bundles a running fee total with its USD snapshot, the
// CollateralAndUsd pattern the teacher's types.go repeats for every
// fee category.
type FeeTotals struct {
	Collateral decimal.Collateral
	Usd        decimal.Usd
}

func (f FeeTotals) Add(c decimal.Collateral, u decimal.Usd) FeeTotals {
	return FeeTotals{Collateral: f.Collateral.Add(c), Usd: f.Usd.Add(u)}
}

// LiquidationMargin is the precomputed breakdown of one-period fee
// reserves plus the exposure margin.
type LiquidationMargin struct {
	Borrow          decimal.Collateral
	Funding         decimal.Collateral
	DeltaNeutrality decimal.Collateral
	Crank           decimal.Collateral
	Exposure        decimal.Collateral
}

// Total sums the margin components, used for the solvency-floor check:
// a position closes once active_collateral no longer covers it.
func (m LiquidationMargin) Total() decimal.Collateral {
	return m.Borrow.Add(m.Funding).Add(m.DeltaNeutrality).Add(m.Crank).Add(m.Exposure)
}

// Position is the full record for one open position.
type Position struct {
	Id       market.PositionId
	Owner    string
	Market   market.Ident
	Dir      market.Direction

	DepositCollateral decimal.Signed[decimal.CollateralTag]
	ActiveCollateral  decimal.Collateral
	CounterCollateral decimal.Collateral

	NotionalSize             decimal.Signed[decimal.NotionalTag]
	NotionalSizeInCollateral decimal.Signed[decimal.CollateralTag]

	Leverage sdkmath.LegacyDec

	TradingFee         FeeTotals
	FundingFee         FeeTotals
	BorrowFee          FeeTotals
	CrankFee           FeeTotals
	PendingCrankFeeUsd decimal.Usd
	DeltaNeutralityFee FeeTotals

	CreatedAt    mtime.Timestamp
	LiquifundedAt mtime.Timestamp
	NextLiquifunding mtime.Timestamp

	EntryPriceBase      sdkmath.LegacyDec
	StopLossOverride    *sdkmath.LegacyDec
	TakeProfitPriceBase sdkmath.LegacyDec

	LiquidationMargin LiquidationMargin

	// FundingAccumulatorAt is the value of the market-wide funding
	// accumulator at LiquifundedAt, enabling O(1) per-position
	// settlement: only the delta since last liquifunding is applied.
	FundingAccumulatorAt sdkmath.LegacyDec
}

// ActiveLeverage recomputes the position's current leverage from its
// live notional-in-collateral and active collateral, used for the
// post-update leverage-bound check.
func (p Position) ActiveLeverage() sdkmath.LegacyDec {
	if p.ActiveCollateral.IsZero() {
		return sdkmath.LegacyZeroDec()
	}
	return p.NotionalSizeInCollateral.Abs().Dec().Quo(p.ActiveCollateral.Dec())
}

// DirectionToBase returns the position's direction in base-asset
// terms, which must never change across updates.
func (p Position) DirectionToBase() market.Direction {
	return p.Market.DirectionToBase(p.Dir)
}

const keyPrefix = "position/"

func key(id market.PositionId) []byte {
	return append([]byte(keyPrefix), store.EncodeUint64(uint64(id))...)
}

// Store is the KV-backed position collection.
type Store struct {
	kv store.KV
}

func New(kv store.KV) *Store { return &Store{kv: kv} }

func (s *Store) Get(id market.PositionId) (Position, error) {
	raw, err := s.kv.Get(key(id))
	if err != nil {
		if err == store.ErrNotFound {
			return Position{}, merrors.ErrPositionUpdate
		}
		return Position{}, err
	}
	var p Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return Position{}, err
	}
	return p, nil
}

func (s *Store) Save(p Position) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.kv.Set(key(p.Id), raw)
}

func (s *Store) Delete(id market.PositionId) error {
	return s.kv.Delete(key(id))
}

// NextId allocates the next monotone PositionId.
func (s *Store) NextId() (market.PositionId, error) {
	const counterKey = "position/_counter"
	raw, err := s.kv.Get([]byte(counterKey))
	var next uint64 = 1
	if err == nil {
		next = store.DecodeUint64(raw) + 1
	} else if err != store.ErrNotFound {
		return 0, err
	}
	if err := s.kv.Set([]byte(counterKey), store.EncodeUint64(next)); err != nil {
		return 0, err
	}
	return market.PositionId(next), nil
}

// ScanOpen visits every open position in ascending PositionId order.
func (s *Store) ScanOpen(fn func(Position) bool) error {
	return s.kv.ScanPrefix([]byte(keyPrefix), func(k, v []byte) bool {
		if len(k) != len(keyPrefix)+8 {
			return true // skip the _counter key
		}
		var p Position
		if err := json.Unmarshal(v, &p); err != nil {
			return true
		}
		return fn(p)
	})
}
