package history_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/market/history"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/store"
)

func openKV(t *testing.T) store.KV {
	t.Helper()
	kv, err := store.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestAppendAssignsPerOwnerSequenceIds(t *testing.T) {
	s := history.New(openKV(t))
	now := mtime.FromUnixNano(1)

	a, err := s.Append(history.TraderAction, history.Entry{Owner: "alice", Kind: history.KindOpenPosition, Timestamp: now})
	require.NoError(t, err)
	require.Equal(t, uint64(1), a.SequenceId)

	b, err := s.Append(history.TraderAction, history.Entry{Owner: "alice", Kind: history.KindClosePosition, Timestamp: now})
	require.NoError(t, err)
	require.Equal(t, uint64(2), b.SequenceId)

	// a different owner gets its own counter, starting back at 1.
	c, err := s.Append(history.TraderAction, history.Entry{Owner: "bob", Kind: history.KindOpenPosition, Timestamp: now})
	require.NoError(t, err)
	require.Equal(t, uint64(1), c.SequenceId)
}

func TestAppendKeepsCategoriesSeparate(t *testing.T) {
	s := history.New(openKV(t))
	now := mtime.FromUnixNano(1)

	_, err := s.Append(history.TraderAction, history.Entry{Owner: "alice", Kind: history.KindOpenPosition, Timestamp: now})
	require.NoError(t, err)
	lp, err := s.Append(history.LpAction, history.Entry{Owner: "alice", Kind: history.KindDepositLiquidity, Timestamp: now})
	require.NoError(t, err)

	// the LP counter for the same owner is independent of the trader counter.
	require.Equal(t, uint64(1), lp.SequenceId)

	page, err := s.List(history.TraderAction, "alice", nil, 10, history.Ascending)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, history.KindOpenPosition, page.Items[0].Kind)
}

func TestListAscendingPaginates(t *testing.T) {
	s := history.New(openKV(t))
	now := mtime.FromUnixNano(1)

	for i := 0; i < 5; i++ {
		_, err := s.Append(history.TraderAction, history.Entry{Owner: "alice", Kind: history.KindOpenPosition, Timestamp: now})
		require.NoError(t, err)
	}

	page, err := s.List(history.TraderAction, "alice", nil, 2, history.Ascending)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, uint64(1), page.Items[0].SequenceId)
	require.Equal(t, uint64(2), page.Items[1].SequenceId)
	require.NotNil(t, page.NextStartAfter)
	require.Equal(t, uint64(2), *page.NextStartAfter)

	next, err := s.List(history.TraderAction, "alice", page.NextStartAfter, 2, history.Ascending)
	require.NoError(t, err)
	require.Len(t, next.Items, 2)
	require.Equal(t, uint64(3), next.Items[0].SequenceId)
	require.Equal(t, uint64(4), next.Items[1].SequenceId)
}

func TestListDescendingStartsFromMostRecent(t *testing.T) {
	s := history.New(openKV(t))
	now := mtime.FromUnixNano(1)

	for i := 0; i < 3; i++ {
		_, err := s.Append(history.TraderAction, history.Entry{Owner: "alice", Kind: history.KindOpenPosition, Timestamp: now})
		require.NoError(t, err)
	}

	page, err := s.List(history.TraderAction, "alice", nil, 10, history.Descending)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	require.Equal(t, uint64(3), page.Items[0].SequenceId)
	require.Equal(t, uint64(1), page.Items[2].SequenceId)
	require.Nil(t, page.NextStartAfter)
}

func TestListOnUnknownOwnerIsEmpty(t *testing.T) {
	s := history.New(openKV(t))
	page, err := s.List(history.TraderAction, "nobody", nil, 10, history.Ascending)
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Nil(t, page.NextStartAfter)
}
