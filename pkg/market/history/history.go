// Package history implements the History Log component:
// per-owner ordered maps keyed by (owner, sequence_id), one collection
// each for trader actions, LP actions, and limit-order actions, with
// paginated retrieval.
//
// Grounded in pkg/market/position.Store's key-prefix-plus-counter
// idiom, generalized to a per-owner counter instead of one market-wide
// counter, and in original_source/contracts/market/src/state/history.rs
// for the three-collection split and the (kind, amounts, trigger
// prices, timestamps, new_owner) snapshot shape an entry carries.
package history

import (
	"encoding/json"

	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/store"
)

// Category distinguishes the three per-owner collections.
type Category string

const (
	TraderAction Category = "trader"
	LpAction     Category = "lp"
	LimitOrder   Category = "limit-order"
)

// Entry is an immutable snapshot of one historical action: kind,
// amounts, trigger prices, timestamps, new_owner on transfer.
// Amounts and trigger prices are carried as pre-formatted strings
// rather than typed decimal.Amount values: a history entry mixes
// collateral, USD, and LP-token denominated fields depending on Kind,
// and the log is a write-once audit trail, not a value participating
// in further arithmetic.
type Entry struct {
	Owner      string
	SequenceId uint64
	Kind       string
	Amounts    map[string]string
	NewOwner   string
	Timestamp  mtime.Timestamp
}

func entryKey(cat Category, owner string, seq uint64) []byte {
	k := []byte("history/" + string(cat) + "/" + owner + "/")
	return append(k, store.EncodeUint64(seq)...)
}

func counterKey(cat Category, owner string) []byte {
	return []byte("history/_counter/" + string(cat) + "/" + owner)
}

// Store is the KV-backed history log.
type Store struct {
	kv store.KV
}

func New(kv store.KV) *Store { return &Store{kv: kv} }

// Append assigns the next per-owner sequence id for cat and persists
// entry. The hot write path used by the engine and crank.
func (s *Store) Append(cat Category, entry Entry) (Entry, error) {
	raw, err := s.kv.Get(counterKey(cat, entry.Owner))
	var next uint64 = 1
	if err == nil {
		next = store.DecodeUint64(raw) + 1
	} else if err != store.ErrNotFound {
		return Entry{}, err
	}
	if err := s.kv.Set(counterKey(cat, entry.Owner), store.EncodeUint64(next)); err != nil {
		return Entry{}, err
	}
	entry.SequenceId = next

	enc, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, err
	}
	if err := s.kv.Set(entryKey(cat, entry.Owner, next), enc); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Order selects ascending or descending pagination (start_after,
// limit, order).
type Order int

const (
	Ascending Order = iota
	Descending
)

// Page is a paginated slice of one owner's history, matching the
// `{items, next_start_after?}` pagination contract every list query uses.
type Page struct {
	Items          []Entry
	NextStartAfter *uint64
}

// List retrieves one page of cat's entries for owner, starting after
// startAfter (nil means from the beginning/end depending on order),
// up to limit items.
func (s *Store) List(cat Category, owner string, startAfter *uint64, limit int, order Order) (Page, error) {
	prefix := []byte("history/" + string(cat) + "/" + owner + "/")

	var start, end []byte
	descending := order == Descending
	if descending {
		start = prefix
		if startAfter != nil {
			end = entryKey(cat, owner, *startAfter)
		} else {
			// No upper bound named: seed the reverse scan from a key
			// past every possible entry under prefix, rather than
			// leaving end nil (an empty seek key is ambiguous in a
			// reverse+Prefix scan).
			end = append(append([]byte{}, prefix...), 0xff)
		}
	} else {
		end = nil
		if startAfter != nil {
			start = append(append([]byte{}, entryKey(cat, owner, *startAfter)...), 0x00)
		} else {
			start = prefix
		}
	}
	if start == nil {
		start = prefix
	}

	var items []Entry
	err := s.kv.ScanRange(start, end, descending, func(k, v []byte) bool {
		if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
			return descending // keep scanning past out-of-range keys only when ranging toward the prefix
		}
		var e Entry
		if json.Unmarshal(v, &e) != nil {
			return true
		}
		items = append(items, e)
		return len(items) < limit+1
	})
	if err != nil {
		return Page{}, err
	}

	page := Page{}
	if len(items) > limit {
		next := items[limit-1].SequenceId
		page.NextStartAfter = &next
		items = items[:limit]
	}
	page.Items = items
	return page, nil
}

// ActionKinds used as Entry.Kind values, grounded in
// original_source's TraderAction/LpAction enums.
const (
	KindOpenPosition          = "open_position"
	KindUpdatePosition        = "update_position"
	KindClosePosition         = "close_position"
	KindPlaceLimitOrder       = "place_limit_order"
	KindCancelLimitOrder      = "cancel_limit_order"
	KindTriggerLimitOrder     = "trigger_limit_order"
	KindDepositLiquidity      = "deposit_liquidity"
	KindWithdrawLiquidity     = "withdraw_liquidity"
	KindClaimYield            = "claim_yield"
	KindStakeLp               = "stake_lp"
	KindUnstakeXlp            = "unstake_xlp"
	KindTransferPosition      = "transfer_position"
)
