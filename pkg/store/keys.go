package store

import (
	"encoding/binary"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// EncodeUint64 big-endian encodes a monotone id (PositionId, OrderId,
// DeferredExecId) so ascending key order matches ascending numeric
// order.
func EncodeUint64(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// mantissaWidth is wide enough for an 18-decimal LegacyDec mantissa
// across any realistic price magnitude: a 32-byte
// big-endian representation of the 18-decimal mantissa suffices.
const mantissaWidth = 32

// EncodeOrderedDecimal produces a binary-comparable encoding of a
// signed decimal such that byte-wise ascending order matches the
// decimal's numeric ascending order. Grounded in
// original_source/contracts/market/src/state/order.rs's
// PriceKey-indexed maps, which require this property for the
// ascending/descending range scans in the liquidation/trigger
// scanner (pkg/market/liquidation).
func EncodeOrderedDecimal(d sdkmath.LegacyDec) []byte {
	out := make([]byte, 1+mantissaWidth)
	mantissa := d.BigInt() // integer mantissa at 18 decimals, may be negative

	if mantissa.Sign() < 0 {
		out[0] = 0x00
		// Two's-complement-free ordering trick: encode the
		// magnitude of (maxMantissa - |value|) so that more
		// negative values (larger magnitude) sort first, and the
		// whole negative range sorts before the 0x01-tagged
		// non-negative range.
		inv := new(big.Int).Add(mantissa, maxMantissaBound())
		fillBigEndian(out[1:], inv)
	} else {
		out[0] = 0x01
		fillBigEndian(out[1:], mantissa)
	}
	return out
}

// maxMantissaBound is an upper bound on the absolute mantissa value
// any price/decimal in this engine will take (10^(32*8/…)); chosen
// generously at 2^248 so the inversion above never underflows for
// any value representable in mantissaWidth bytes.
func maxMantissaBound() *big.Int {
	bound := new(big.Int).Lsh(big.NewInt(1), mantissaWidth*8-8)
	return bound
}

func fillBigEndian(dst []byte, v *big.Int) {
	abs := new(big.Int).Abs(v)
	b := abs.Bytes()
	if len(b) > len(dst) {
		// Should not happen given maxMantissaBound; truncate
		// defensively rather than panic on persisted data.
		b = b[len(b)-len(dst):]
	}
	copy(dst[len(dst)-len(b):], b)
}
