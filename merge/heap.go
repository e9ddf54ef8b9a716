package merge

import (
	"errors"
	"fmt"
	"iter"
	"slices"
)

var (
	// ErrArity is returned when a tuple has the wrong number of fields.
	ErrArity = errors.New("merge: tuple arity mismatch")
	// ErrDrained is returned when pushing into a drained heap.
	ErrDrained = errors.New("merge: heap already drained")
)

// Tuple is one path through a breakdown hierarchy.
type Tuple []uint32

// Compare orders tuples lexicographically.
func Compare(a, b Tuple) int { return slices.Compare(a, b) }

// Reversed returns a reversed copy of t.
func (t Tuple) Reversed() Tuple {
	r := slices.Clone(t)
	slices.Reverse(r)
	return r
}

// Heap is a min-heap of fixed-arity tuples. Tuples are stored back to
// back in one slice.
type Heap struct {
	arity   int
	items   []uint32
	drained bool
}

// NewHeap creates a heap of tuples with arity fields.
func NewHeap(arity int) *Heap {
	if arity < 1 {
		arity = 1
	}
	return &Heap{arity: arity}
}

// Arity returns the tuple arity.
func (h *Heap) Arity() int { return h.arity }

// Len returns the number of tuples in the heap, duplicates included.
func (h *Heap) Len() int { return len(h.items) / h.arity }

// Push inserts a copy of t.
func (h *Heap) Push(t Tuple) error {
	if h.drained {
		return ErrDrained
	}
	if len(t) != h.arity {
		return fmt.Errorf("%w: got %d fields, want %d", ErrArity, len(t), h.arity)
	}
	h.items = append(h.items, t...)
	h.siftUp(h.Len() - 1)
	return nil
}

func (h *Heap) at(i int) []uint32 {
	return h.items[i*h.arity : (i+1)*h.arity]
}

func (h *Heap) less(i, j int) bool {
	return slices.Compare(h.at(i), h.at(j)) < 0
}

func (h *Heap) swap(i, j int) {
	a, b := h.at(i), h.at(j)
	for k := range a {
		a[k], b[k] = b[k], a[k]
	}
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(i, p) {
			return
		}
		h.swap(i, p)
		i = p
	}
}

func (h *Heap) siftDown(i int) {
	n := h.Len()
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && h.less(r, l) {
			best = r
		}
		if !h.less(best, i) {
			return
		}
		h.swap(i, best)
		i = best
	}
}

// pop copies the minimum into dst and removes it.
func (h *Heap) pop(dst []uint32) {
	copy(dst, h.at(0))
	last := h.Len() - 1
	if last > 0 {
		copy(h.at(0), h.at(last))
	}
	h.items = h.items[:last*h.arity]
	if last > 0 {
		h.siftDown(0)
	}
}

// Drain empties the heap in ascending order, yielding each distinct tuple
// once, reversed. It can be consumed only once; later calls yield nothing.
// Tuples left behind by an early break are discarded.
func (h *Heap) Drain() iter.Seq[Tuple] {
	return func(yield func(Tuple) bool) {
		if h.drained {
			return
		}
		h.drained = true
		defer func() { h.items = nil }()

		cur := make([]uint32, h.arity)
		prev := make([]uint32, h.arity)
		have := false
		for h.Len() > 0 {
			h.pop(cur)
			if have && slices.Equal(cur, prev) {
				continue
			}
			copy(prev, cur)
			have = true
			if !yield(Tuple(cur).Reversed()) {
				return
			}
		}
	}
}
