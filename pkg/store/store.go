// Package store is the ordered key-value persistence layer backing
// every named collection in the engine (positions, orders, deferred
// execs, prices, history logs, liquidity stats). It wraps
// github.com/dgraph-io/badger/v4, an indirect dependency of the
// teacher's module graph (pulled in transitively via cosmos-sdk),
// promoted here to a direct, exercised dependency: badger is an
// ordered LSM-tree KV store with native prefix iteration, giving
// every collection a key-value store with prefix-scan and ordered
// range queries.
package store

import (
	"bytes"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// KV is the storage interface every typed collection wrapper in
// pkg/market/* is built on. It is intentionally small: the engine
// never needs joins or secondary transactions beyond what a single
// handler's critical section (pkg/market/engine's per-market mutex)
// already serializes.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Exists(key []byte) (bool, error)

	// ScanPrefix calls fn for every key with the given prefix in
	// ascending key order, stopping early if fn returns false.
	ScanPrefix(prefix []byte, fn func(key, value []byte) bool) error

	// ScanRange calls fn for every key in [start, end) in ascending
	// order (descending if reverse is true, walking the same range
	// from its end), stopping early if fn returns false.
	ScanRange(start, end []byte, reverse bool, fn func(key, value []byte) bool) error

	Close() error
}

// Badger wraps a *badger.DB to satisfy KV.
type Badger struct {
	db *badger.DB
}

var _ KV = (*Badger)(nil)

// Open opens (creating if absent) a badger database rooted at dir.
// inMemory is exposed for tests, grounded in badger's own
// WithInMemory option.
func Open(dir string, inMemory bool) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Close() error { return b.db.Close() }

func (b *Badger) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, err
}

func (b *Badger) Set(key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (b *Badger) Delete(key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (b *Badger) Exists(key []byte) (bool, error) {
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// commonPrefix bounds a range scan to the bytes shared by start and
// end, keeping it from wandering into a neighboring collection's
// keyspace when end is nil or only partially constrains the range.
func commonPrefix(start, end []byte) []byte {
	if end == nil {
		return start
	}
	n := len(start)
	if len(end) < n {
		n = len(end)
	}
	i := 0
	for i < n && start[i] == end[i] {
		i++
	}
	return start[:i]
}

func (b *Badger) ScanPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := append([]byte(nil), item.Key()...)
			var cont bool
			err := item.Value(func(v []byte) error {
				cont = fn(k, append([]byte(nil), v...))
				return nil
			})
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	})
}

func (b *Badger) ScanRange(start, end []byte, reverse bool, fn func(key, value []byte) bool) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = reverse
		opts.Prefix = commonPrefix(start, end)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := start
		if reverse {
			seek = end
		}
		for it.Seek(seek); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if reverse {
				if bytes.Compare(k, start) < 0 {
					break
				}
				if end != nil && bytes.Compare(k, end) >= 0 {
					continue
				}
			} else {
				if end != nil && bytes.Compare(k, end) >= 0 {
					break
				}
			}
			var cont bool
			err := it.Item().Value(func(v []byte) error {
				cont = fn(k, append([]byte(nil), v...))
				return nil
			})
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	})
}
