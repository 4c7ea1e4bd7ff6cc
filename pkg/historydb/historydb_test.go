package historydb

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/levana-engine/perpcore/pkg/market/history"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
)

func TestOpenRejectsEmptyDSN(t *testing.T) {
	_, err := Open("")
	require.ErrorIs(t, err, ErrMissingDSN)
}

func TestCloseOnNilConnectionErrors(t *testing.T) {
	db := &DB{}
	err := db.Close()
	require.ErrorIs(t, err, ErrNilDatabase)
}

func TestMarshalAmountsNilBecomesEmptyObject(t *testing.T) {
	raw, err := marshalAmounts(nil)
	require.NoError(t, err)
	require.JSONEq(t, "{}", string(raw))
}

func TestMarshalAmountsRoundTrips(t *testing.T) {
	raw, err := marshalAmounts(map[string]string{"collateral": "1.5", "shares": "2"})
	require.NoError(t, err)
	require.JSONEq(t, `{"collateral":"1.5","shares":"2"}`, string(raw))
}

// testDB opens a live connection against HISTORYDB_TEST_DSN, skipping
// the calling test when it isn't set: Project/ClosedPositionHistory/
// TradeHistorySummary exercise real SQL this package's schema-bearing
// Open call creates, which needs an actual Postgres instance rather
// than a mock.
func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("HISTORYDB_TEST_DSN")
	if dsn == "" {
		t.Skip("HISTORYDB_TEST_DSN not set; skipping live history-db test")
	}
	db, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestProjectAndClosedPositionHistoryAgainstLiveDB(t *testing.T) {
	db := testDB(t)
	owner := "alice-" + t.Name()

	now := mtime.FromUnixNano(1_700_000_000 * int64(1_000_000_000))
	require.NoError(t, db.Project(history.TraderAction, history.Entry{
		Owner: owner, SequenceId: 1, Kind: history.KindOpenPosition,
		Amounts: map[string]string{"collateral": "100"}, Timestamp: now,
	}))
	require.NoError(t, db.ProjectClosedPosition(owner, 1, "direct", "42", now))

	rows, next, err := db.ClosedPositionHistory(owner, nil, 10)
	require.NoError(t, err)
	require.Nil(t, next)
	require.Len(t, rows, 1)
	require.Equal(t, uint64(1), rows[0].PositionId)
	require.Equal(t, "42", rows[0].Payout)

	summary, err := db.TradeHistorySummary(owner)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	require.Equal(t, history.KindOpenPosition, summary[0].Kind)
	require.Equal(t, int64(1), summary[0].Count)
}
