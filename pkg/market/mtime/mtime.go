// Package mtime provides the nanosecond-integer timestamp type used
// on every wire struct in the engine. Adapted from pkg/time.UnixNanoTime, made
// symmetric: that type marshals to RFC3339 but unmarshals from a
// nanosecond string, which suited a blockchain client reading one
// wire format and displaying another. The engine's own wire format
// is nanosecond integers on both sides, so Timestamp round-trips.
package mtime

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Timestamp is a point in time serialized as a decimal string of
// Unix nanoseconds.
type Timestamp time.Time

// Now returns the current time as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now()) }

// FromUnixNano constructs a Timestamp from a raw nanosecond count.
func FromUnixNano(ns int64) Timestamp { return Timestamp(time.Unix(0, ns)) }

// UnixNano returns the raw nanosecond count.
func (t Timestamp) UnixNano() int64 { return time.Time(t).UnixNano() }

func (t Timestamp) Time() time.Time { return time.Time(t) }

func (t Timestamp) Before(o Timestamp) bool { return time.Time(t).Before(time.Time(o)) }
func (t Timestamp) After(o Timestamp) bool  { return time.Time(t).After(time.Time(o)) }
func (t Timestamp) Equal(o Timestamp) bool  { return time.Time(t).Equal(time.Time(o)) }

// Add returns t+d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return Timestamp(time.Time(t).Add(d))
}

// Sub returns the duration elapsed between o and t (t-o).
func (t Timestamp) Sub(o Timestamp) time.Duration {
	return time.Time(t).Sub(time.Time(o))
}

func (t Timestamp) String() string { return time.Time(t).Format(time.RFC3339Nano) }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatInt(t.UnixNano(), 10))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("mtime: parse %q: %w", s, err)
	}
	*t = FromUnixNano(ns)
	return nil
}
