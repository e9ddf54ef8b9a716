// Package conv narrows column values to the integer types used by
// callers, failing instead of truncating.
package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrRange is returned when a value does not fit the destination type.
var ErrRange = errors.New("conv: value out of range")

// Uint32 narrows v to uint32.
func Uint32(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d does not fit uint32", ErrRange, v)
	}
	return uint32(v), nil
}

// Int narrows v to int.
func Int(v uint64) (int, error) {
	if v > math.MaxInt {
		return 0, fmt.Errorf("%w: %d does not fit int", ErrRange, v)
	}
	return int(v), nil
}

// Row converts v to a row id and checks it against a cardinality of n.
func Row(v uint64, n int) (int, bool) {
	if n <= 0 || v >= uint64(n) {
		return 0, false
	}
	return int(v), true
}
