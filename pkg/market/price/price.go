// Package price implements the append-only price feed: an ordered map
// of price points serving both oracle and manual modes, with "latest
// price <= T" and "oldest price >= T" lookups used by the crank and
// liquifunding engine.
//
// Grounded in pkg/contracts/levana/market/types.go's StatusResponse
// fields (SpotPrice.Oracle{...}) for the composed-price shape and in
// original_source/contracts/market/src/state/spot_price.rs for the
// append-only, first-write-wins storage semantics.
package price

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/store"
)

// Point is an immutable composed oracle snapshot used for all
// conversions and settlement within a window.
type Point struct {
	Timestamp      mtime.Timestamp
	PriceNotional  sdkmath.LegacyDec // price of notional in collateral terms
	PriceUsd       sdkmath.LegacyDec
	PriceBase      sdkmath.LegacyDec
	PublishTime    mtime.Timestamp
	PublishTimeUsd mtime.Timestamp
}

// Composer produces a fresh Point, either from a live oracle
// composition (multiple feeds) or from the last manually set price.
// The engine is agnostic to which: it only calls Compose on append.
// The actual oracle composition (Pyth, Sei, Stride, etc.) is an
// injected collaborator rather than implemented here.
type Composer interface {
	Compose() (Point, error)
}

// Conversions — pure functions of a Point. Cross-domain conversion
// lives only here, never as methods on decimal.Amount itself.

func CollateralToNotional(c decimal.Collateral, p Point) decimal.Notional {
	return decimal.NewAmount[decimal.NotionalTag](c.Dec().Quo(p.PriceNotional))
}

func NotionalToCollateral(n decimal.Notional, p Point) decimal.Collateral {
	return decimal.NewAmount[decimal.CollateralTag](n.Dec().Mul(p.PriceNotional))
}

func CollateralToUsd(c decimal.Collateral, p Point) decimal.Usd {
	return decimal.NewAmount[decimal.UsdTag](c.Dec().Mul(p.PriceUsd))
}

func UsdToCollateral(u decimal.Usd, p Point) decimal.Collateral {
	return decimal.NewAmount[decimal.CollateralTag](u.Dec().Quo(p.PriceUsd))
}

func NotionalToUsd(n decimal.Notional, p Point) decimal.Usd {
	return decimal.NewAmount[decimal.UsdTag](n.Dec().Mul(p.PriceNotional).Mul(p.PriceUsd))
}

// BaseToNotionalPrice converts a bare price quoted in base terms (as
// a limit order's trigger price or a trigger override is) into the
// notional terms a Point's PriceNotional uses, mirroring how Compose
// derives PriceBase from PriceNotional in the other direction: equal
// for CollateralIsQuote, inverted for CollateralIsBase.
func BaseToNotionalPrice(base sdkmath.LegacyDec, marketType market.MarketType) sdkmath.LegacyDec {
	if marketType == market.CollateralIsBase {
		return sdkmath.LegacyOneDec().Quo(base)
	}
	return base
}

const keyPrefix = "price/"

// Feed is the append-only ordered price history for one market.
type Feed struct {
	kv       store.KV
	composer Composer
}

func New(kv store.KV, composer Composer) *Feed {
	return &Feed{kv: kv, composer: composer}
}

func key(ts mtime.Timestamp) []byte {
	return append([]byte(keyPrefix), uint64Bytes(uint64(ts.UnixNano()))...)
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// Append reads a fresh composed price via the Composer and persists
// it at `now`. No-op (first write wins) if a point already exists at
// that exact timestamp.
func (f *Feed) Append(now mtime.Timestamp) (Point, error) {
	exists, err := f.kv.Exists(key(now))
	if err != nil {
		return Point{}, err
	}
	if exists {
		existing, err := f.Spot(&now)
		if err != nil {
			return Point{}, err
		}
		return existing, nil
	}

	p, err := f.composer.Compose()
	if err != nil {
		return Point{}, err
	}
	p.Timestamp = now

	return p, f.store(p)
}

func (f *Feed) store(p Point) error {
	enc, err := encodePoint(p)
	if err != nil {
		return err
	}
	return f.kv.Set(key(p.Timestamp), enc)
}

// Spot returns the newest entry with timestamp <= at (or now, if at
// is nil). Fails with ErrPriceNotFound when the history is empty.
func (f *Feed) Spot(at *mtime.Timestamp) (Point, error) {
	bound := mtime.Now()
	if at != nil {
		bound = *at
	}

	var found *Point
	err := f.kv.ScanRange([]byte(keyPrefix), key(bound.Add(1)), true, func(k, v []byte) bool {
		p, err := decodePoint(v)
		if err != nil {
			return false
		}
		found = &p
		return false // first hit in reverse scan is the newest <= bound
	})
	if err != nil {
		return Point{}, err
	}
	if found == nil {
		return Point{}, merrors.ErrPriceNotFound
	}
	return *found, nil
}

// SpotAfter returns the oldest entry with timestamp >= min; used by
// the crank to advance.
func (f *Feed) SpotAfter(min mtime.Timestamp) (Point, bool, error) {
	var found *Point
	err := f.kv.ScanRange(key(min), nil, false, func(k, v []byte) bool {
		p, err := decodePoint(v)
		if err != nil {
			return false
		}
		found = &p
		return false
	})
	if err != nil {
		return Point{}, false, err
	}
	if found == nil {
		return Point{}, false, nil
	}
	return *found, true, nil
}

// OverrideCurrentPrice is a query-only in-memory shim: callers may
// supply a fresh price for read-only queries without mutating
// storage.
type Override struct {
	base  *Feed
	point *Point
}

func (f *Feed) WithOverride(p Point) *Override {
	return &Override{base: f, point: &p}
}

func (o *Override) Spot(at *mtime.Timestamp) (Point, error) {
	if o.point != nil && (at == nil || !o.point.Timestamp.After(*at)) {
		return *o.point, nil
	}
	return o.base.Spot(at)
}

func encodePoint(p Point) ([]byte, error) {
	return []byte(fmt.Sprintf("%d|%s|%s|%s|%d|%d",
		p.Timestamp.UnixNano(), p.PriceNotional.String(), p.PriceUsd.String(),
		p.PriceBase.String(), p.PublishTime.UnixNano(), p.PublishTimeUsd.UnixNano())), nil
}

func decodePoint(b []byte) (Point, error) {
	parts := splitPipe(string(b))
	if len(parts) != 6 {
		return Point{}, fmt.Errorf("price: malformed record")
	}
	ts, err := parseInt(parts[0])
	if err != nil {
		return Point{}, err
	}
	pn, err := sdkmath.LegacyNewDecFromStr(parts[1])
	if err != nil {
		return Point{}, err
	}
	pu, err := sdkmath.LegacyNewDecFromStr(parts[2])
	if err != nil {
		return Point{}, err
	}
	pb, err := sdkmath.LegacyNewDecFromStr(parts[3])
	if err != nil {
		return Point{}, err
	}
	pubT, err := parseInt(parts[4])
	if err != nil {
		return Point{}, err
	}
	pubU, err := parseInt(parts[5])
	if err != nil {
		return Point{}, err
	}
	return Point{
		Timestamp:      mtime.FromUnixNano(ts),
		PriceNotional:  pn,
		PriceUsd:       pu,
		PriceBase:      pb,
		PublishTime:    mtime.FromUnixNano(pubT),
		PublishTimeUsd: mtime.FromUnixNano(pubU),
	}, nil
}

func splitPipe(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func parseInt(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
