// Package order implements the Limit-Order Store: pending
// orders keyed by OrderId with per-direction price indexes enabling
// "next order whose trigger is crossed" scans.
//
// Grounded in original_source/contracts/market/src/state/order.rs's
// LIMIT_ORDERS / LIMIT_ORDERS_BY_PRICE_{LONG,SHORT} maps.
package order

import (
	"encoding/json"

	sdkmath "cosmossdk.io/math"

	"github.com/levana-engine/perpcore/pkg/decimal"
	"github.com/levana-engine/perpcore/pkg/market"
	"github.com/levana-engine/perpcore/pkg/market/price"
	"github.com/levana-engine/perpcore/pkg/store"
)

// Order is a pending limit order.
type Order struct {
	Id                market.OrderId
	Owner             string
	TriggerPriceBase  sdkmath.LegacyDec
	Collateral        decimal.Collateral
	Leverage          sdkmath.LegacyDec
	Dir               market.Direction
	StopLoss          *sdkmath.LegacyDec
	TakeProfit        sdkmath.LegacyDec
	CrankFeeCollateral decimal.Collateral
	CrankFeeUsd        decimal.Usd
}

const (
	ordersPrefix    = "order/by-id/"
	longIdxPrefix   = "order/by-price/long/"
	shortIdxPrefix  = "order/by-price/short/"
)

func idKey(id market.OrderId) []byte {
	return append([]byte(ordersPrefix), store.EncodeUint64(uint64(id))...)
}

// priceIndexKey encodes (PriceKey, OrderId): a binary-comparable
// price encoding followed by the monotone id, so ascending byte
// order matches ascending numeric order on both components.
func priceIndexKey(prefix string, price sdkmath.LegacyDec, id market.OrderId) []byte {
	k := append([]byte(prefix), store.EncodeOrderedDecimal(price)...)
	return append(k, store.EncodeUint64(uint64(id))...)
}

func indexPrefixFor(dir market.Direction) string {
	if dir == market.Long {
		return longIdxPrefix
	}
	return shortIdxPrefix
}

// Store is the KV-backed limit-order collection.
type Store struct {
	kv         store.KV
	marketType market.MarketType
}

func New(kv store.KV, ident market.Ident) *Store {
	return &Store{kv: kv, marketType: ident.Type}
}

// notionalTrigger converts an order's trigger price, quoted in base
// terms like the rest of its fields, into the notional terms the
// price feed's scan bound uses — a no-op for CollateralIsQuote
// markets, an inversion for CollateralIsBase ones.
func (s *Store) notionalTrigger(o Order) sdkmath.LegacyDec {
	return price.BaseToNotionalPrice(o.TriggerPriceBase, s.marketType)
}

func (s *Store) NextId() (market.OrderId, error) {
	const counterKey = "order/_counter"
	raw, err := s.kv.Get([]byte(counterKey))
	var next uint64 = 1
	if err == nil {
		next = store.DecodeUint64(raw) + 1
	} else if err != store.ErrNotFound {
		return 0, err
	}
	if err := s.kv.Set([]byte(counterKey), store.EncodeUint64(next)); err != nil {
		return 0, err
	}
	return market.OrderId(next), nil
}

// Place persists a new order and indexes it by trigger price.
func (s *Store) Place(o Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	if err := s.kv.Set(idKey(o.Id), raw); err != nil {
		return err
	}
	return s.kv.Set(priceIndexKey(indexPrefixFor(o.Dir), s.notionalTrigger(o), o.Id), []byte{})
}

// Get looks up an order by id.
func (s *Store) Get(id market.OrderId) (Order, error) {
	raw, err := s.kv.Get(idKey(id))
	if err != nil {
		return Order{}, err
	}
	var o Order
	if err := json.Unmarshal(raw, &o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Remove deletes an order and its price index entry (used by both
// Cancel and trigger-execution).
func (s *Store) Remove(o Order) error {
	if err := s.kv.Delete(idKey(o.Id)); err != nil {
		return err
	}
	return s.kv.Delete(priceIndexKey(indexPrefixFor(o.Dir), s.notionalTrigger(o), o.Id))
}

// TriggeredLong returns the long order with the highest trigger price
// that is <= priceNotional (the price feed's notional-terms value,
// matching the notional-terms index Place builds), scanning
// descending from the bound. ok is false if none qualify.
func (s *Store) TriggeredLong(priceNotional sdkmath.LegacyDec) (Order, bool, error) {
	return s.scanIndex(longIdxPrefix, priceNotional, true)
}

// TriggeredShort returns the short order with the lowest trigger
// price that is <= priceNotional, scanning ascending.
func (s *Store) TriggeredShort(priceNotional sdkmath.LegacyDec) (Order, bool, error) {
	return s.scanIndex(shortIdxPrefix, priceNotional, false)
}

func (s *Store) scanIndex(prefix string, bound sdkmath.LegacyDec, descending bool) (Order, bool, error) {
	start := []byte(prefix)
	end := append([]byte(prefix), store.EncodeOrderedDecimal(bound)...)
	// Inclusive of `bound` itself: extend end by one byte of 0xff so
	// the exclusive-end scan still admits an exact-price match.
	endInclusive := append(append([]byte{}, end...), 0xff)

	var hitKey []byte
	err := s.kv.ScanRange(start, endInclusive, descending, func(k, v []byte) bool {
		hitKey = append([]byte(nil), k...)
		return false // first hit is the most urgent
	})
	if err != nil {
		return Order{}, false, err
	}
	if hitKey == nil {
		return Order{}, false, nil
	}
	if descending {
		// A descending walk meets the largest OrderId at the hit's price
		// first; rescan that price level ascending so ties go to the
		// smallest OrderId, as they do on the ascending side.
		level := hitKey[:len(hitKey)-8]
		levelEnd := append(append([]byte{}, level...), 0xff)
		if err := s.kv.ScanRange(level, levelEnd, false, func(k, v []byte) bool {
			hitKey = append([]byte(nil), k...)
			return false
		}); err != nil {
			return Order{}, false, err
		}
	}

	id := store.DecodeUint64(hitKey[len(hitKey)-8:])
	o, err := s.Get(market.OrderId(id))
	if err != nil {
		return Order{}, false, err
	}
	return o, true, nil
}
