package attr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrOverflow is returned when a value does not fit the column width.
	ErrOverflow = errors.New("attr: value overflows width")
	// ErrOutOfBounds is returned when a row id is outside the entity.
	ErrOutOfBounds = errors.New("attr: row out of bounds")
	// ErrArity is returned when a writer is closed with missing rows.
	ErrArity = errors.New("attr: row count does not match entity")
	// ErrWidthMismatch is returned when a declared width disagrees with
	// the stored one.
	ErrWidthMismatch = errors.New("attr: width mismatch")
	// ErrKindMismatch is returned when a fixed column is opened as a
	// variable one or vice versa.
	ErrKindMismatch = errors.New("attr: kind mismatch")
	// ErrInvalidWidth is returned for widths other than 1, 2, 4 or 8.
	ErrInvalidWidth = errors.New("attr: invalid width")
	// ErrCorrupt is returned when stored files disagree with their sidecar.
	ErrCorrupt = errors.New("attr: corrupt column")
	// ErrSlotFull is returned when a SlotWriter row receives more values
	// than it was sized for.
	ErrSlotFull = errors.New("attr: row slots exhausted")
)

// Width is the byte width of a stored integer.
type Width uint8

const (
	// Auto defers the width choice to the builder; the chosen width is
	// recorded in the sidecar.
	Auto Width = 0
	W8   Width = 1
	W16  Width = 2
	W32  Width = 4
	W64  Width = 8
)

// Candidates lists the storable widths from narrowest to widest.
var Candidates = [...]Width{W8, W16, W32, W64}

// WidthFor returns the narrowest width that can hold max.
func WidthFor(max uint64) Width {
	for _, w := range Candidates {
		if max <= w.Max() {
			return w
		}
	}
	return W64
}

// Valid reports whether w is one of the candidate widths.
func (w Width) Valid() bool {
	switch w {
	case W8, W16, W32, W64:
		return true
	}
	return false
}

// Max returns the largest value representable in w.
func (w Width) Max() uint64 {
	switch w {
	case W8:
		return math.MaxUint8
	case W16:
		return math.MaxUint16
	case W32:
		return math.MaxUint32
	case W64:
		return math.MaxUint64
	}
	return 0
}

// Bytes returns w as a byte count.
func (w Width) Bytes() int { return int(w) }

func (w Width) String() string {
	if w == Auto {
		return "auto"
	}
	return fmt.Sprintf("u%d", int(w)*8)
}

// Put encodes v into buf[:w].
func Put(buf []byte, w Width, v uint64) error {
	if !w.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidWidth, w)
	}
	if v > w.Max() {
		return &OverflowError{Value: v, Width: w}
	}
	switch w {
	case W8:
		buf[0] = byte(v)
	case W16:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case W32:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	default:
		binary.LittleEndian.PutUint64(buf, v)
	}
	return nil
}

// Get decodes the value stored in buf[:w].
func Get(buf []byte, w Width) uint64 {
	switch w {
	case W8:
		return uint64(buf[0])
	case W16:
		return uint64(binary.LittleEndian.Uint16(buf))
	case W32:
		return uint64(binary.LittleEndian.Uint32(buf))
	default:
		return binary.LittleEndian.Uint64(buf)
	}
}

// OverflowError reports a value that does not fit a width.
type OverflowError struct {
	Value uint64
	Width Width
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("attr: value %d does not fit %s (max %d)", e.Value, e.Width, e.Width.Max())
}

func (e *OverflowError) Unwrap() error { return ErrOverflow }

// BoundsError reports a row outside [0, Count).
type BoundsError struct {
	Row   int
	Count int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("attr: row %d outside [0, %d)", e.Row, e.Count)
}

func (e *BoundsError) Unwrap() error { return ErrOutOfBounds }
