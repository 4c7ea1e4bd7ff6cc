package liquidation_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/liquidation"
	"github.com/levana-engine/perpcore/pkg/market/liquidity"
	"github.com/levana-engine/perpcore/pkg/market/liquifunding"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/market/order"
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

func TestSettleAndCheckDetectsStopLossWithoutLiquifunding(t *testing.T) {
	kv, err := store.Open("", true)
	require.NoError(t, err)
	defer kv.Close()
	liq := liquidity.New(kv)

	sl := dec("8")
	pos := position.Position{
		Id:                  1,
		Dir:                 market.Long,
		ActiveCollateral:    decimal.NewAmount[decimal.CollateralTag](dec("1000")),
		EntryPriceBase:      dec("10"),
		StopLossOverride:    &sl,
		TakeProfitPriceBase: dec("20"),
		NextLiquifunding:    mtime.FromUnixNano(1_000_000_000_000),
	}

	from := price.Point{Timestamp: mtime.FromUnixNano(0), PriceBase: dec("9")}
	to := price.Point{Timestamp: mtime.FromUnixNano(1), PriceBase: dec("7")}

	out, triggered, err := liquidation.SettleAndCheck(liq, market.Config{}, liquifunding.State{}, pos, from, to)
	require.NoError(t, err)
	require.True(t, triggered)
	require.Equal(t, position.CloseStopLoss, out.Reason)
}

func TestSettleAndCheckNoTriggerWhenPriceStaysInRange(t *testing.T) {
	kv, err := store.Open("", true)
	require.NoError(t, err)
	defer kv.Close()
	liq := liquidity.New(kv)

	sl := dec("5")
	pos := position.Position{
		Id:                  2,
		Dir:                 market.Long,
		EntryPriceBase:      dec("10"),
		StopLossOverride:    &sl,
		TakeProfitPriceBase: dec("20"),
		NextLiquifunding:    mtime.FromUnixNano(1_000_000_000_000),
	}
	from := price.Point{PriceBase: dec("10")}
	to := price.Point{PriceBase: dec("11")}

	out, triggered, err := liquidation.SettleAndCheck(liq, market.Config{}, liquifunding.State{}, pos, from, to)
	require.NoError(t, err)
	require.False(t, triggered)
	require.Equal(t, pos.Id, out.Position.Id)
}

func TestScanLimitOrdersPrefersLongThenShort(t *testing.T) {
	kv, err := store.Open("", true)
	require.NoError(t, err)
	defer kv.Close()
	os := order.New(kv, market.Ident{Type: market.CollateralIsQuote})

	longId, err := os.NextId()
	require.NoError(t, err)
	require.NoError(t, os.Place(order.Order{Id: longId, Dir: market.Long, TriggerPriceBase: dec("10")}))

	shortId, err := os.NextId()
	require.NoError(t, err)
	require.NoError(t, os.Place(order.Order{Id: shortId, Dir: market.Short, TriggerPriceBase: dec("10")}))

	hit, ok, err := liquidation.ScanLimitOrders(os, dec("10"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, market.Long, hit.Dir, "long index is scanned first")
}

func TestScanLimitOrdersNoneBelowTrigger(t *testing.T) {
	kv, err := store.Open("", true)
	require.NoError(t, err)
	defer kv.Close()
	os := order.New(kv, market.Ident{Type: market.CollateralIsQuote})

	id, err := os.NextId()
	require.NoError(t, err)
	require.NoError(t, os.Place(order.Order{Id: id, Dir: market.Long, TriggerPriceBase: dec("20")}))

	_, ok, err := liquidation.ScanLimitOrders(os, dec("5"))
	require.NoError(t, err)
	require.False(t, ok)
}

// TestScanLimitOrdersIndexesByNotionalPriceForCollateralIsBase guards
// against indexing/scanning orders by their raw base-terms trigger
// price: in a CollateralIsBase market notional price is the inverse
// of base price, so a long order triggered at base price 10 (notional
// 0.1) must be found by a scan bound expressed in notional terms, not
// by the untransformed base price.
func TestScanLimitOrdersIndexesByNotionalPriceForCollateralIsBase(t *testing.T) {
	kv, err := store.Open("", true)
	require.NoError(t, err)
	defer kv.Close()
	os := order.New(kv, market.Ident{Type: market.CollateralIsBase})

	id, err := os.NextId()
	require.NoError(t, err)
	require.NoError(t, os.Place(order.Order{Id: id, Dir: market.Long, TriggerPriceBase: dec("10")}))

	// Notional-terms bound equal to 1/10: the scan must cross this
	// order, since its notional-terms trigger is exactly 0.1.
	hit, ok, err := liquidation.ScanLimitOrders(os, dec("0.1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, hit.Id)

	// A raw-base-price bound of 10 must NOT cross it: that would only
	// be correct if the order were (incorrectly) indexed by base price.
	kv2, err := store.Open("", true)
	require.NoError(t, err)
	defer kv2.Close()
	os2 := order.New(kv2, market.Ident{Type: market.CollateralIsBase})
	id2, err := os2.NextId()
	require.NoError(t, err)
	require.NoError(t, os2.Place(order.Order{Id: id2, Dir: market.Long, TriggerPriceBase: dec("10")}))
	_, ok, err = liquidation.ScanLimitOrders(os2, dec("0.05"))
	require.NoError(t, err)
	require.False(t, ok, "notional price 0.05 must not cross a 0.1 notional trigger")
}
