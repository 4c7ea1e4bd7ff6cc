// Package deferred implements the Deferred Execution Queue: every
// mutating trader message is enqueued as an item rather than executed
// immediately, so its eventual execution can run against a price
// point published strictly after it was queued (a price-freshness
// gate).
//
// Grounded in original_source/contracts/market/src/state/deferred_execution.rs:
// the DeferredExecLatestIds{issued,processed} counter pair, the
// per-target dedup presence-maps (PENDING_DEFERRED_FOR_POSITION,
// PENDING_DEFERRED_FOR_ORDER, IS_POSITION_CLOSING,
// IS_LIMIT_ORDER_CANCELING), and the success/failure reply handling
// that refunds deposited funds on failure.
package deferred

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/merrors"
	"github.com/levana-engine/perpcore/pkg/market/mtime"
	"github.com/levana-engine/perpcore/pkg/store"
)

// Kind enumerates every queueable message.
type Kind int

const (
	KindOpenPosition Kind = iota
	KindUpdatePositionAddCollateralImpactLeverage
	KindUpdatePositionAddCollateralImpactSize
	KindUpdatePositionRemoveCollateralImpactLeverage
	KindUpdatePositionRemoveCollateralImpactSize
	KindUpdatePositionLeverage
	KindSetTriggerOrder
	KindClosePosition
	KindPlaceLimitOrder
	KindCancelLimitOrder
)

// TargetKind distinguishes what dedup bucket (if any) an item belongs to.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetPosition
	TargetOrder
)

// Item is one queued unit of work.
type Item struct {
	Id           market.DeferredExecId
	IdempotencyKey uuid.UUID
	Owner        string
	Kind         Kind
	TargetKind   TargetKind
	PositionId   market.PositionId
	OrderId      market.OrderId
	Amount       decimal.Collateral
	CrankFee     decimal.Collateral
	CrankFeeUsd  decimal.Usd
	Created      mtime.Timestamp

	// Params carries the kind-specific message fields (leverage,
	// direction, trigger prices, ...) the original's submessage
	// payload held; the engine package encodes/decodes it per Kind,
	// since the queue itself is agnostic to any one message shape.
	Params json.RawMessage

	Status   Status
	Reason   string
	Executed *mtime.Timestamp
}

// Status mirrors DeferredExecStatus.
type Status int

const (
	StatusPending Status = iota
	StatusSuccess
	StatusFailure
)

const (
	itemPrefix         = "deferred/item/"
	latestIdsKey       = "deferred/_latest"
	pendingForPosition = "deferred/pending-position/"
	pendingForOrder    = "deferred/pending-order/"
	closingPosition    = "deferred/closing-position/"
	cancelingOrder     = "deferred/canceling-order/"
)

// latestIds is the issued/processed monotone counter pair.
type latestIds struct {
	Issued    uint64
	Processed uint64 // 0 means "none processed yet"
}

// Store is the KV-backed deferred execution queue.
type Store struct {
	kv store.KV
}

func New(kv store.KV) *Store { return &Store{kv: kv} }

func itemKey(id market.DeferredExecId) []byte {
	return append([]byte(itemPrefix), store.EncodeUint64(uint64(id))...)
}

func (s *Store) getLatestIds() (latestIds, error) {
	raw, err := s.kv.Get([]byte(latestIdsKey))
	if err != nil {
		if err == store.ErrNotFound {
			return latestIds{}, nil
		}
		return latestIds{}, err
	}
	var l latestIds
	if err := json.Unmarshal(raw, &l); err != nil {
		return latestIds{}, err
	}
	return l, nil
}

func (s *Store) saveLatestIds(l latestIds) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return s.kv.Set([]byte(latestIdsKey), raw)
}

// QueueSize reports the number of items not yet processed, used by
// the crank-fee surcharge step function.
func (s *Store) QueueSize() (uint64, error) {
	l, err := s.getLatestIds()
	if err != nil {
		return 0, err
	}
	return l.Issued - l.Processed, nil
}

// Enqueue assigns a fresh monotone id, enforces the dedup rules for
// the item's target: only one pending update per
// position/order at a time for size-changing/trigger updates; close
// and cancel each dedup on their own boolean flag"), and persists the
// item as Pending.
func (s *Store) Enqueue(it Item, now mtime.Timestamp) (Item, error) {
	l, err := s.getLatestIds()
	if err != nil {
		return Item{}, err
	}

	if err := s.assertDedup(it); err != nil {
		return Item{}, err
	}

	l.Issued++
	id := market.DeferredExecId(l.Issued)
	it.Id = id
	it.Created = now
	it.Status = StatusPending

	if err := s.saveLatestIds(l); err != nil {
		return Item{}, err
	}
	if err := s.markPending(it); err != nil {
		return Item{}, err
	}
	if err := s.save(it); err != nil {
		return Item{}, err
	}
	return it, nil
}

func (s *Store) assertDedup(it Item) error {
	switch it.Kind {
	case KindUpdatePositionAddCollateralImpactLeverage, KindUpdatePositionAddCollateralImpactSize,
		KindUpdatePositionRemoveCollateralImpactLeverage, KindUpdatePositionRemoveCollateralImpactSize,
		KindUpdatePositionLeverage, KindSetTriggerOrder:
		has, err := s.hasAnyPendingForPosition(it.PositionId)
		if err != nil {
			return err
		}
		if has {
			return merrors.ErrPositionUpdateAlreadyPending
		}
	case KindClosePosition:
		exists, err := s.kv.Exists(closingKey(it.PositionId))
		if err != nil {
			return err
		}
		if exists {
			return merrors.ErrPositionAlreadyClosing
		}
	case KindCancelLimitOrder:
		exists, err := s.kv.Exists(cancelingKey(it.OrderId))
		if err != nil {
			return err
		}
		if exists {
			return merrors.ErrLimitOrderAlreadyCanceling
		}
	}
	return nil
}

func (s *Store) markPending(it Item) error {
	switch it.Kind {
	case KindUpdatePositionAddCollateralImpactLeverage, KindUpdatePositionAddCollateralImpactSize,
		KindUpdatePositionRemoveCollateralImpactLeverage, KindUpdatePositionRemoveCollateralImpactSize,
		KindUpdatePositionLeverage, KindSetTriggerOrder:
		return s.kv.Set(pendingPositionKey(it.PositionId, it.Id), []byte{})
	case KindClosePosition:
		return s.kv.Set(closingKey(it.PositionId), []byte{})
	case KindCancelLimitOrder:
		return s.kv.Set(cancelingKey(it.OrderId), []byte{})
	}
	return nil
}

func (s *Store) clearPending(it Item) error {
	switch it.Kind {
	case KindUpdatePositionAddCollateralImpactLeverage, KindUpdatePositionAddCollateralImpactSize,
		KindUpdatePositionRemoveCollateralImpactLeverage, KindUpdatePositionRemoveCollateralImpactSize,
		KindUpdatePositionLeverage, KindSetTriggerOrder:
		return s.kv.Delete(pendingPositionKey(it.PositionId, it.Id))
	case KindClosePosition:
		return s.kv.Delete(closingKey(it.PositionId))
	case KindCancelLimitOrder:
		return s.kv.Delete(cancelingKey(it.OrderId))
	}
	return nil
}

func pendingPositionKey(pos market.PositionId, id market.DeferredExecId) []byte {
	k := append([]byte(pendingForPosition), store.EncodeUint64(uint64(pos))...)
	return append(k, store.EncodeUint64(uint64(id))...)
}

func closingKey(pos market.PositionId) []byte {
	return append([]byte(closingPosition), store.EncodeUint64(uint64(pos))...)
}

func cancelingKey(o market.OrderId) []byte {
	return append([]byte(cancelingOrder), store.EncodeUint64(uint64(o))...)
}

func (s *Store) hasAnyPendingForPosition(pos market.PositionId) (bool, error) {
	prefix := append([]byte(pendingForPosition), store.EncodeUint64(uint64(pos))...)
	found := false
	err := s.kv.ScanPrefix(prefix, func(k, v []byte) bool {
		found = true
		return false
	})
	return found, err
}

func (s *Store) save(it Item) error {
	raw, err := json.Marshal(it)
	if err != nil {
		return err
	}
	return s.kv.Set(itemKey(it.Id), raw)
}

func (s *Store) Get(id market.DeferredExecId) (Item, error) {
	raw, err := s.kv.Get(itemKey(id))
	if err != nil {
		return Item{}, err
	}
	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// List paginates every issued item in ascending id order, for the
// ListDeferredExecs query.
func (s *Store) List(startAfter *market.DeferredExecId, limit int) ([]Item, *market.DeferredExecId, error) {
	l, err := s.getLatestIds()
	if err != nil {
		return nil, nil, err
	}
	next := uint64(1)
	if startAfter != nil {
		next = uint64(*startAfter) + 1
	}

	var items []Item
	for id := next; id <= l.Issued && len(items) < limit+1; id++ {
		it, err := s.Get(market.DeferredExecId(id))
		if err != nil {
			return nil, nil, err
		}
		items = append(items, it)
	}

	var cursor *market.DeferredExecId
	if len(items) > limit {
		c := items[limit-1].Id
		cursor = &c
		items = items[:limit]
	}
	return items, cursor, nil
}

// Next returns the oldest unprocessed item, or ok=false if the queue
// is caught up.
func (s *Store) Next() (Item, bool, error) {
	l, err := s.getLatestIds()
	if err != nil {
		return Item{}, false, err
	}
	if l.Processed >= l.Issued {
		return Item{}, false, nil
	}
	it, err := s.Get(market.DeferredExecId(l.Processed + 1))
	if err != nil {
		return Item{}, false, err
	}
	return it, true, nil
}

// Eligible reports whether item was queued strictly before
// pricePublishedAt, the freshness gate: created < price_point.timestamp.
func Eligible(it Item, pricePublishedAt mtime.Timestamp) bool {
	return it.Created.Before(pricePublishedAt)
}

// MarkProcessed advances the processed counter to id, regardless of
// success or failure: advance in both success and failure
// paths so the queue never stalls on one bad item.
func (s *Store) MarkProcessed(id market.DeferredExecId) error {
	l, err := s.getLatestIds()
	if err != nil {
		return err
	}
	l.Processed = uint64(id)
	return s.saveLatestIds(l)
}

// Succeed records a successful execution and clears the item's dedup
// flag.
func (s *Store) Succeed(it Item, executedAt mtime.Timestamp) error {
	it.Status = StatusSuccess
	it.Executed = &executedAt
	if err := s.save(it); err != nil {
		return err
	}
	if err := s.clearPending(it); err != nil {
		return err
	}
	return s.MarkProcessed(it.Id)
}

// Fail records a failed execution, refunds the deposited amount (the
// caller performs the actual balance transfer; this records the
// refund obligation), clears the dedup flag, and advances the
// processed counter — mirroring handle_deferred_exec_reply's
// Err branch.
func (s *Store) Fail(it Item, reason string, executedAt mtime.Timestamp) (refund decimal.Collateral, err error) {
	it.Status = StatusFailure
	it.Reason = reason
	it.Executed = &executedAt
	if err := s.save(it); err != nil {
		return decimal.Collateral{}, err
	}
	if err := s.clearPending(it); err != nil {
		return decimal.Collateral{}, err
	}
	if err := s.MarkProcessed(it.Id); err != nil {
		return decimal.Collateral{}, err
	}
	return it.Amount, nil
}
