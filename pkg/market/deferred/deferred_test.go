package deferred_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/deferred"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
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

func TestEnqueueAssignsMonotoneIds(t *testing.T) {
	s := deferred.New(openKV(t))
	now := mtime.FromUnixNano(100)

	a, err := s.Enqueue(deferred.Item{Kind: deferred.KindOpenPosition, Owner: "alice"}, now)
	require.NoError(t, err)
	b, err := s.Enqueue(deferred.Item{Kind: deferred.KindOpenPosition, Owner: "bob"}, now)
	require.NoError(t, err)

	require.Equal(t, market.DeferredExecId(1), a.Id)
	require.Equal(t, market.DeferredExecId(2), b.Id)
}

func TestEnqueueRejectsSecondPendingUpdateForSamePosition(t *testing.T) {
	s := deferred.New(openKV(t))
	now := mtime.FromUnixNano(0)

	_, err := s.Enqueue(deferred.Item{Kind: deferred.KindUpdatePositionLeverage, TargetKind: deferred.TargetPosition, PositionId: 7}, now)
	require.NoError(t, err)

	_, err = s.Enqueue(deferred.Item{Kind: deferred.KindSetTriggerOrder, TargetKind: deferred.TargetPosition, PositionId: 7}, now)
	require.ErrorIs(t, err, merrors.ErrPositionUpdateAlreadyPending)
}

func TestEnqueueRejectsDoubleClose(t *testing.T) {
	s := deferred.New(openKV(t))
	now := mtime.FromUnixNano(0)

	_, err := s.Enqueue(deferred.Item{Kind: deferred.KindClosePosition, TargetKind: deferred.TargetPosition, PositionId: 3}, now)
	require.NoError(t, err)

	_, err = s.Enqueue(deferred.Item{Kind: deferred.KindClosePosition, TargetKind: deferred.TargetPosition, PositionId: 3}, now)
	require.ErrorIs(t, err, merrors.ErrPositionAlreadyClosing)
}

func TestNextAndProcessedAdvancesInOrder(t *testing.T) {
	s := deferred.New(openKV(t))
	now := mtime.FromUnixNano(0)

	first, err := s.Enqueue(deferred.Item{Kind: deferred.KindOpenPosition, Owner: "alice"}, now)
	require.NoError(t, err)
	_, err = s.Enqueue(deferred.Item{Kind: deferred.KindOpenPosition, Owner: "bob"}, now)
	require.NoError(t, err)

	next, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first.Id, next.Id)

	require.NoError(t, s.Succeed(next, mtime.FromUnixNano(1)))

	next2, ok, err := s.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, market.DeferredExecId(2), next2.Id)
}

func TestFailRefundsAndUnpends(t *testing.T) {
	s := deferred.New(openKV(t))
	now := mtime.FromUnixNano(0)

	amt := decimal.NewAmount[decimal.CollateralTag](dec("50"))
	it, err := s.Enqueue(deferred.Item{
		Kind: deferred.KindUpdatePositionLeverage, TargetKind: deferred.TargetPosition,
		PositionId: 9, Amount: amt,
	}, now)
	require.NoError(t, err)

	refund, err := s.Fail(it, "price moved too far", mtime.FromUnixNano(5))
	require.NoError(t, err)
	require.True(t, refund.Equal(amt))

	// dedup flag must be cleared so a new update can be queued
	_, err = s.Enqueue(deferred.Item{Kind: deferred.KindUpdatePositionLeverage, TargetKind: deferred.TargetPosition, PositionId: 9}, now)
	require.NoError(t, err)
}

func TestEligibleGatesOnCreationTime(t *testing.T) {
	it := deferred.Item{Created: mtime.FromUnixNano(100)}
	require.True(t, deferred.Eligible(it, mtime.FromUnixNano(200)))
	require.False(t, deferred.Eligible(it, mtime.FromUnixNano(100)))
	require.False(t, deferred.Eligible(it, mtime.FromUnixNano(50)))
}
