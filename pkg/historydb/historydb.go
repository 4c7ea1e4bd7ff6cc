// Package historydb is the read-side projection of the History Log:
// a Postgres table fed synchronously from every
// pkg/market/history.Store.Append call, queried with the paginated
// `{items, next_start_after?}` contract every list
// query gets, instead of re-scanning the KV store's full per-owner history
// on every read.
//
// Adapted from the teacher's pkg/db/db.go (database/sql +
// github.com/lib/pq, NewDB/DSN/Validate idiom); Open takes the DSN
// that config.File.HistoryDSN assembles from the file's HistoryDB
// Host/Port/User block via db.Config.DSN.
package historydb

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/levana-engine/perpcore/pkg/market/history"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
)

// DB wraps the read-projection connection.
type DB struct {
	sql *sql.DB
}

// Open connects to dsn and ensures the projection schema exists.
func Open(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, ErrMissingDSN
	}
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedConnect, err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedPing, err)
	}
	db := &DB{sql: conn}
	if err := db.migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error {
	if db.sql == nil {
		return ErrNilDatabase
	}
	if err := db.sql.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedClose, err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS history_entries (
	category     TEXT NOT NULL,
	owner        TEXT NOT NULL,
	sequence_id  BIGINT NOT NULL,
	kind         TEXT NOT NULL,
	amounts      JSONB NOT NULL,
	new_owner    TEXT NOT NULL DEFAULT '',
	occurred_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (category, owner, sequence_id)
);
CREATE INDEX IF NOT EXISTS history_entries_owner_idx
	ON history_entries (category, owner, sequence_id DESC);

CREATE TABLE IF NOT EXISTS closed_positions (
	owner         TEXT NOT NULL,
	position_id   BIGINT NOT NULL,
	reason        TEXT NOT NULL,
	payout        TEXT NOT NULL,
	closed_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (owner, position_id, closed_at)
);
CREATE INDEX IF NOT EXISTS closed_positions_owner_idx
	ON closed_positions (owner, closed_at DESC);
`

func (db *DB) migrate() error {
	_, err := db.sql.Exec(schema)
	return err
}

// Project inserts one KV history entry into the read model,
// idempotent on (category, owner, sequence_id) so a crank retry after
// a partial failure never double-counts a row.
func (db *DB) Project(cat history.Category, entry history.Entry) error {
	amounts, err := marshalAmounts(entry.Amounts)
	if err != nil {
		return err
	}
	_, err = db.sql.Exec(`
		INSERT INTO history_entries (category, owner, sequence_id, kind, amounts, new_owner, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (category, owner, sequence_id) DO NOTHING`,
		string(cat), entry.Owner, entry.SequenceId, entry.Kind, amounts, entry.NewOwner, entry.Timestamp.Time())
	return err
}

// ProjectClosedPosition records a position close for the dedicated
// closed-position query path (trade-history summary needs
// payout/reason columns a generic amounts blob would make awkward to
// filter on).
func (db *DB) ProjectClosedPosition(owner string, positionId uint64, reason, payout string, closedAt mtime.Timestamp) error {
	_, err := db.sql.Exec(`
		INSERT INTO closed_positions (owner, position_id, reason, payout, closed_at)
		VALUES ($1, $2, $3, $4, to_timestamp($5))
		ON CONFLICT DO NOTHING`,
		owner, positionId, reason, payout, closedAt.Time().Unix())
	return err
}

// ClosedPositionRow is one paginated result row.
type ClosedPositionRow struct {
	PositionId uint64
	Reason     string
	Payout     string
	ClosedAt   int64
}

// ClosedPositionHistory paginates an owner's closed positions, newest
// first, matching the `{items, next_start_after?}` contract.
func (db *DB) ClosedPositionHistory(owner string, startAfterUnix *int64, limit int) ([]ClosedPositionRow, *int64, error) {
	var rows *sql.Rows
	var err error
	if startAfterUnix != nil {
		rows, err = db.sql.Query(`
			SELECT position_id, reason, payout, extract(epoch from closed_at)::bigint
			FROM closed_positions
			WHERE owner = $1 AND closed_at < to_timestamp($2)
			ORDER BY closed_at DESC
			LIMIT $3`, owner, *startAfterUnix, limit+1)
	} else {
		rows, err = db.sql.Query(`
			SELECT position_id, reason, payout, extract(epoch from closed_at)::bigint
			FROM closed_positions
			WHERE owner = $1
			ORDER BY closed_at DESC
			LIMIT $2`, owner, limit+1)
	}
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []ClosedPositionRow
	for rows.Next() {
		var r ClosedPositionRow
		if err := rows.Scan(&r.PositionId, &r.Reason, &r.Payout, &r.ClosedAt); err != nil {
			return nil, nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *int64
	if len(out) > limit {
		n := out[limit-1].ClosedAt
		next = &n
		out = out[:limit]
	}
	return out, next, nil
}

// TradeHistorySummaryRow aggregates an owner's trader-action count
// for one kind, for the dashboard-style summary query grouped under
// TradeHistorySummary. It carries no payout total.
type TradeHistorySummaryRow struct {
	Kind  string
	Count int64
}

func (db *DB) TradeHistorySummary(owner string) ([]TradeHistorySummaryRow, error) {
	rows, err := db.sql.Query(`
		SELECT kind, count(*)
		FROM history_entries
		WHERE category = $1 AND owner = $2
		GROUP BY kind
		ORDER BY kind`, string(history.TraderAction), owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeHistorySummaryRow
	for rows.Next() {
		var r TradeHistorySummaryRow
		if err := rows.Scan(&r.Kind, &r.Count); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func marshalAmounts(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
