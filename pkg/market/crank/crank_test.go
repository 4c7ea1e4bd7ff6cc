package crank_test

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/crank"
	"github.com/levana-engine/perpcore/pkg/market/deferred"
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

func openKV(t *testing.T) store.KV {
	t.Helper()
	kv, err := store.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

type fixedComposer struct {
	pt price.Point
}

func (c fixedComposer) Compose() (price.Point, error) { return c.pt, nil }

var _ price.Composer = fixedComposer{}

// newEngine builds an Engine with empty stores and a single price
// point already appended at `at`, so Step's Prices.Spot lookup always
// succeeds.
func newEngine(t *testing.T, at mtime.Timestamp, priceBase sdkmath.LegacyDec) (*crank.Engine, *order.Store, *deferred.Store, *position.Store) {
	t.Helper()
	kv := openKV(t)

	pts := position.New(kv)
	ords := order.New(kv, market.Ident{Type: market.CollateralIsQuote})
	defs := deferred.New(kv)
	liq := liquidity.New(kv)
	lf := liquifunding.New(kv)
	prices := price.New(kv, fixedComposer{pt: price.Point{
		Timestamp:     at,
		PriceNotional: priceBase,
		PriceUsd:      sdkmath.LegacyOneDec(),
		PriceBase:     priceBase,
		PublishTime:   at,
	}})
	_, err := prices.Append(at)
	require.NoError(t, err)

	eng := &crank.Engine{
		Cfg:       market.Config{},
		Positions: pts,
		Orders:    ords,
		Deferred:  defs,
		Liquidity: liq,
		Liquifund: lf,
		Prices:    prices,
	}
	return eng, ords, defs, pts
}

func TestStepIdlesWithNoWork(t *testing.T) {
	now := mtime.FromUnixNano(1000)
	eng, _, _, _ := newEngine(t, now, dec("10"))

	report, err := eng.Step(now, "")
	require.NoError(t, err)
	require.Equal(t, crank.BranchIdle, report.Branch)
}

func TestStepIdlesWhenNoPriceEverAppended(t *testing.T) {
	kv := openKV(t)
	eng := &crank.Engine{
		Positions: position.New(kv),
		Orders:    order.New(kv, market.Ident{Type: market.CollateralIsQuote}),
		Deferred:  deferred.New(kv),
		Liquidity: liquidity.New(kv),
		Liquifund: liquifunding.New(kv),
		Prices:    price.New(kv, fixedComposer{}),
	}

	report, err := eng.Step(mtime.FromUnixNano(1), "")
	require.NoError(t, err)
	require.Equal(t, crank.BranchIdle, report.Branch)
}

type recordingExecutor struct {
	err     error
	calls   int
	lastIt  deferred.Item
}

func (r *recordingExecutor) Execute(it deferred.Item, pp price.Point) error {
	r.calls++
	r.lastIt = it
	return r.err
}

func TestStepExecutesEligibleDeferredItem(t *testing.T) {
	enqueuedAt := mtime.FromUnixNano(500)
	priceAt := mtime.FromUnixNano(1000)
	eng, _, defs, _ := newEngine(t, priceAt, dec("10"))

	it, err := defs.Enqueue(deferred.Item{Kind: deferred.KindClosePosition, Owner: "alice", PositionId: 1}, enqueuedAt)
	require.NoError(t, err)

	exec := &recordingExecutor{}
	eng.Executor = exec

	report, err := eng.Step(priceAt, "rewards-addr")
	require.NoError(t, err)
	require.Equal(t, crank.BranchDeferred, report.Branch)
	require.Equal(t, it.Id, report.DeferredId)
	require.True(t, report.DeferredOk)
	require.Equal(t, 1, exec.calls)

	saved, err := defs.Get(it.Id)
	require.NoError(t, err)
	require.Equal(t, deferred.StatusSuccess, saved.Status)

	// queue is now drained, so the next Step call idles.
	report2, err := eng.Step(priceAt, "")
	require.NoError(t, err)
	require.Equal(t, crank.BranchIdle, report2.Branch)
}

func TestStepRecordsFailedDeferredExecution(t *testing.T) {
	enqueuedAt := mtime.FromUnixNano(500)
	priceAt := mtime.FromUnixNano(1000)
	eng, _, defs, _ := newEngine(t, priceAt, dec("10"))

	it, err := defs.Enqueue(deferred.Item{Kind: deferred.KindClosePosition, Owner: "alice", PositionId: 1}, enqueuedAt)
	require.NoError(t, err)

	eng.Executor = &recordingExecutor{err: errors.New("insufficient collateral")}

	report, err := eng.Step(priceAt, "")
	require.NoError(t, err)
	require.Equal(t, crank.BranchDeferred, report.Branch)
	require.False(t, report.DeferredOk)

	saved, err := defs.Get(it.Id)
	require.NoError(t, err)
	require.Equal(t, deferred.StatusFailure, saved.Status)
	require.Equal(t, "insufficient collateral", saved.Reason)
}

func TestStepSkipsDeferredItemNotYetEligible(t *testing.T) {
	priceAt := mtime.FromUnixNano(1000)
	eng, _, defs, _ := newEngine(t, priceAt, dec("10"))

	// queued at the same instant as the price point: Eligible requires
	// strictly-before, so this item must not run yet.
	_, err := defs.Enqueue(deferred.Item{Kind: deferred.KindClosePosition, Owner: "alice", PositionId: 1}, priceAt)
	require.NoError(t, err)

	eng.Executor = &recordingExecutor{}

	report, err := eng.Step(priceAt, "")
	require.NoError(t, err)
	require.Equal(t, crank.BranchIdle, report.Branch)
}

type recordingOrderExecutor struct {
	calls int
	lastO order.Order
}

func (r *recordingOrderExecutor) ExecuteLimitOrder(o order.Order, pp price.Point) error {
	r.calls++
	r.lastO = o
	return nil
}

func TestStepExecutesCrossedLimitOrder(t *testing.T) {
	priceAt := mtime.FromUnixNano(1000)
	eng, ords, _, _ := newEngine(t, priceAt, dec("10"))

	o := order.Order{Id: 1, Owner: "alice", Dir: market.Long, TriggerPriceBase: dec("12"), TakeProfit: dec("20")}
	require.NoError(t, ords.Place(o))

	exec := &recordingOrderExecutor{}
	eng.OrderExec = exec

	report, err := eng.Step(priceAt, "")
	require.NoError(t, err)
	require.Equal(t, crank.BranchLimitOrder, report.Branch)
	require.Equal(t, market.OrderId(1), report.OrderId)
	require.Equal(t, 1, exec.calls)
}

func TestStepPrefersDeferredOverLimitOrder(t *testing.T) {
	enqueuedAt := mtime.FromUnixNano(500)
	priceAt := mtime.FromUnixNano(1000)
	eng, ords, defs, _ := newEngine(t, priceAt, dec("10"))

	_, err := defs.Enqueue(deferred.Item{Kind: deferred.KindClosePosition, Owner: "alice", PositionId: 1}, enqueuedAt)
	require.NoError(t, err)
	require.NoError(t, ords.Place(order.Order{Id: 1, Owner: "bob", Dir: market.Long, TriggerPriceBase: dec("12")}))

	eng.Executor = &recordingExecutor{}
	eng.OrderExec = &recordingOrderExecutor{}

	report, err := eng.Step(priceAt, "")
	require.NoError(t, err)
	require.Equal(t, crank.BranchDeferred, report.Branch)
}

func TestBranchStringNames(t *testing.T) {
	require.Equal(t, "idle", crank.BranchIdle.String())
	require.Equal(t, "liquifunding", crank.BranchLiquifunding.String())
	require.Equal(t, "deferred", crank.BranchDeferred.String())
	require.Equal(t, "limit_order", crank.BranchLimitOrder.String())
}
