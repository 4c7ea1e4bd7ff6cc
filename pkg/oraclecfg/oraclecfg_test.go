package oraclecfg

import (
	"os"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
)

type fixedSource struct {
	reading FeedReading
	err     error
}

func (f fixedSource) Read() (FeedReading, error) { return f.reading, f.err }

func TestComposeMultipliesLegsAndInverts(t *testing.T) {
	now := mtime.Now()
	legs := []Leg{
		{Source: fixedSource{reading: FeedReading{Price: sdkmath.LegacyNewDec(2), PublishTime: now}}},
		{Source: fixedSource{reading: FeedReading{Price: sdkmath.LegacyNewDec(4), PublishTime: now}}, Inverted: true},
	}
	cfg := Config{MaxFeedAge: time.Minute}

	got, publish, err := cfg.Compose(legs, now)
	require.NoError(t, err)
	require.True(t, got.Equal(sdkmath.LegacyNewDecWithPrec(5, 1))) // 2 * (1/4) = 0.5
	require.Equal(t, now, publish)
}

func TestComposeRejectsStaleFeeds(t *testing.T) {
	now := mtime.Now()
	stale := now.Add(-time.Hour)
	legs := []Leg{
		{Source: fixedSource{reading: FeedReading{Price: sdkmath.LegacyOneDec(), PublishTime: stale}}},
	}
	cfg := Config{MaxFeedAge: time.Minute}

	_, _, err := cfg.Compose(legs, now)
	require.ErrorIs(t, err, merrors.ErrPriceTooOld)
}

func TestComposeRejectsEmptyLegs(t *testing.T) {
	cfg := Config{MaxFeedAge: time.Minute}
	_, _, err := cfg.Compose(nil, mtime.Now())
	require.ErrorIs(t, err, merrors.ErrPriceNotFound)
}

func TestFileFeedSourceReadsConfiguredKey(t *testing.T) {
	path := writeFeedFile(t, `
[readings.base_usd]
price = "1.5"
publish_time = 1700000000
`)
	src := FileFeedSource{Path: path, Key: "base_usd"}

	r, err := src.Read()
	require.NoError(t, err)
	require.True(t, r.Price.Equal(sdkmath.LegacyNewDecWithPrec(15, 1)))
	require.Equal(t, int64(1700000000), r.PublishTime.Time().Unix())
}

func TestFileFeedSourceMissingKey(t *testing.T) {
	path := writeFeedFile(t, `
[readings.other]
price = "1"
publish_time = 1700000000
`)
	src := FileFeedSource{Path: path, Key: "base_usd"}

	_, err := src.Read()
	require.Error(t, err)
}

func TestComposerDerivesPriceBaseFromMarketType(t *testing.T) {
	notionalLeg := fixedSource{reading: FeedReading{Price: sdkmath.LegacyNewDec(10), PublishTime: mtime.Now()}}
	usdLeg := fixedSource{reading: FeedReading{Price: sdkmath.LegacyOneDec(), PublishTime: mtime.Now()}}

	quoteComposer := Composer{
		Notional: Config{Feeds: []Leg{{Source: notionalLeg}}, MaxFeedAge: time.Minute},
		Usd:      Config{FeedsUsd: []Leg{{Source: usdLeg}}, MaxFeedAge: time.Minute},
		Ident:    market.Ident{Base: "BTC", Quote: "USDC", Type: market.CollateralIsQuote},
	}
	pt, err := quoteComposer.Compose()
	require.NoError(t, err)
	require.True(t, pt.PriceBase.Equal(pt.PriceNotional))

	baseComposer := quoteComposer
	baseComposer.Ident.Type = market.CollateralIsBase
	pt, err = baseComposer.Compose()
	require.NoError(t, err)
	require.True(t, pt.PriceBase.Equal(sdkmath.LegacyOneDec().Quo(pt.PriceNotional)))
}

func writeFeedFile(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "feeds_*.toml")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
