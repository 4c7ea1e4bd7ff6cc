package liquifunding_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/liquidity"
	"github.com/levana-engine/perpcore/pkg/market/liquifunding"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/market/position"
	"github.com/levana-engine/perpcore/pkg/market/price"
	"github.com/levana-engine/perpcore/pkg/store"
)

func dec(s string) sdkmath.LegacyDec {
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testConfig() market.Config {
	return market.Config{
		FundingRateSensitivity:        dec("1"),
		FundingRateMaxAnnualized:      dec("0.3"),
		DeltaNeutralityFeeSensitivity: dec("1"),
		DeltaNeutralityFeeCap:         dec("1"),
		BorrowFeeRateMinAnnualized:    dec("0.01"),
		BorrowFeeRateMaxAnnualized:    dec("0.20"),
		CrankFeeCharged:               dec("0"),
		ExposureMarginRatio:           dec("0.01"),
		LiquifundingDelaySeconds:      21600,
		SecondsPerYear:                31536000,
	}
}

func TestAdvanceRollsAccumulatorForwardByElapsed(t *testing.T) {
	cfg := testConfig()
	start := mtime.FromUnixNano(0)

	st := liquifunding.State{
		LongNotional:     decimal.NewAmount[decimal.NotionalTag](dec("200")),
		ShortNotional:    decimal.NewAmount[decimal.NotionalTag](dec("100")),
		AccumulatorLong:  sdkmath.LegacyZeroDec(),
		AccumulatorShort: sdkmath.LegacyZeroDec(),
		UpdatedAt:        start,
	}

	later := start.Add(365 * 24 * time.Hour)
	next := liquifunding.Advance(cfg, st, later)

	require.True(t, next.AccumulatorLong.IsPositive(), "long side is popular, accumulator should grow")
	require.True(t, next.AccumulatorShort.IsNegative(), "short side receives funding, accumulator should go negative")
	require.Equal(t, later, next.UpdatedAt)
}

func TestAdvanceNoOpWhenNotElapsed(t *testing.T) {
	cfg := testConfig()
	now := mtime.FromUnixNano(1000)
	st := liquifunding.State{UpdatedAt: now, AccumulatorLong: dec("0.05")}

	next := liquifunding.Advance(cfg, st, now)
	require.True(t, next.AccumulatorLong.Equal(dec("0.05")))
}

func TestAppendRateSampleTrimsToMaxAndSmooths(t *testing.T) {
	kv, err := store.Open("", true)
	require.NoError(t, err)
	defer kv.Close()
	st := liquifunding.New(kv)

	for i := 0; i < 70; i++ {
		require.NoError(t, st.AppendRateSample(liquifunding.RateSample{
			At:        mtime.FromUnixNano(int64(i)),
			LongRate:  dec("0.1"),
			ShortRate: dec("-0.1"),
		}))
	}

	history, err := st.RateHistory()
	require.NoError(t, err)
	require.Len(t, history, 64, "history should be trimmed to the ring bound")

	long, short, err := st.SmoothedRates(10)
	require.NoError(t, err)
	require.True(t, long.IsPositive())
	require.True(t, short.IsNegative())
}

func TestSettleAccruesFeesAndAdvancesSchedule(t *testing.T) {
	cfg := testConfig()
	kv, err := store.Open("", true)
	require.NoError(t, err)
	defer kv.Close()
	liq := liquidity.New(kv)

	require.NoError(t, liq.Deposit("lp1", decimal.NewAmount[decimal.CollateralTag](dec("100000")),
		decimal.NewAmount[decimal.LpTokenTag](dec("100000")), false, mtime.FromUnixNano(0)))
	require.NoError(t, liq.Lock(decimal.NewAmount[decimal.CollateralTag](dec("500"))))

	createdAt := mtime.FromUnixNano(0)
	pos := position.Position{
		Id:                       1,
		Dir:                      market.Long,
		ActiveCollateral:         decimal.NewAmount[decimal.CollateralTag](dec("1000")),
		CounterCollateral:        decimal.NewAmount[decimal.CollateralTag](dec("500")),
		NotionalSizeInCollateral: decimal.NewSigned[decimal.CollateralTag](dec("5000")),
		Leverage:                 dec("5"),
		CreatedAt:                createdAt,
		LiquifundedAt:            createdAt,
		EntryPriceBase:           dec("10"),
		TakeProfitPriceBase:      dec("15"),
		FundingAccumulatorAt:     sdkmath.LegacyZeroDec(),
	}

	st := liquifunding.State{
		LongNotional:     decimal.NewAmount[decimal.NotionalTag](dec("500")),
		ShortNotional:    decimal.NewAmount[decimal.NotionalTag](dec("200")),
		AccumulatorLong:  dec("0.01"),
		AccumulatorShort: dec("-0.02"),
		UpdatedAt:        createdAt.Add(6 * time.Hour),
	}

	pp := price.Point{
		Timestamp: createdAt.Add(6 * time.Hour),
		PriceNotional: dec("1"),
		PriceUsd:      dec("1"),
		PriceBase:     dec("10"),
	}

	out, err := liquifunding.Settle(liq, cfg, st, pos, pp)
	require.NoError(t, err)
	require.False(t, out.Closing)
	require.True(t, out.Position.ActiveCollateral.LT(pos.ActiveCollateral), "fees should reduce active collateral")
	require.True(t, out.Position.FundingAccumulatorAt.Equal(st.AccumulatorLong))
	require.Equal(t, pp.Timestamp, out.Position.LiquifundedAt)
	require.True(t, out.Position.NextLiquifunding.After(pp.Timestamp))
}

func TestSettleClosesWhenCollateralExhausted(t *testing.T) {
	cfg := testConfig()
	kv, err := store.Open("", true)
	require.NoError(t, err)
	defer kv.Close()
	liq := liquidity.New(kv)
	require.NoError(t, liq.Deposit("lp1", decimal.NewAmount[decimal.CollateralTag](dec("100000")),
		decimal.NewAmount[decimal.LpTokenTag](dec("100000")), false, mtime.FromUnixNano(0)))

	createdAt := mtime.FromUnixNano(0)
	pos := position.Position{
		Id:                       2,
		Dir:                      market.Long,
		ActiveCollateral:         decimal.NewAmount[decimal.CollateralTag](dec("10")),
		CounterCollateral:        decimal.NewAmount[decimal.CollateralTag](dec("5")),
		NotionalSizeInCollateral: decimal.NewSigned[decimal.CollateralTag](dec("5000")),
		LiquifundedAt:            createdAt,
		EntryPriceBase:           dec("10"),
		FundingAccumulatorAt:     sdkmath.LegacyZeroDec(),
	}

	st := liquifunding.State{
		AccumulatorLong: dec("10"), // enormous owed funding
		UpdatedAt:       createdAt.Add(6 * time.Hour),
	}
	pp := price.Point{Timestamp: createdAt.Add(6 * time.Hour), PriceNotional: dec("1"), PriceUsd: dec("1"), PriceBase: dec("10")}

	out, err := liquifunding.Settle(liq, cfg, st, pos, pp)
	require.NoError(t, err)
	require.True(t, out.Closing)
	require.Equal(t, position.CloseLiquidation, out.Reason)
}

func TestDue(t *testing.T) {
	now := mtime.FromUnixNano(1000)
	pos := position.Position{NextLiquifunding: mtime.FromUnixNano(500)}
	require.True(t, liquifunding.Due(pos, price.Point{Timestamp: now}))

	pos.NextLiquifunding = mtime.FromUnixNano(2000)
	require.False(t, liquifunding.Due(pos, price.Point{Timestamp: now}))
}
