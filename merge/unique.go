package merge

import (
	"cmp"
	"iter"
)

// MergeUnique merges two sequences that are sorted and unique by key into
// one sequence sorted and unique by key. When both sides hold the same
// key, the left element is emitted and the right one dropped.
func MergeUnique[T any, K cmp.Ordered](left, right iter.Seq[T], key func(T) K) iter.Seq[T] {
	return func(yield func(T) bool) {
		nextL, stopL := iter.Pull(left)
		defer stopL()
		nextR, stopR := iter.Pull(right)
		defer stopR()

		l, okL := nextL()
		r, okR := nextR()
		for okL && okR {
			switch c := cmp.Compare(key(l), key(r)); {
			case c < 0:
				if !yield(l) {
					return
				}
				l, okL = nextL()
			case c > 0:
				if !yield(r) {
					return
				}
				r, okR = nextR()
			default:
				if !yield(l) {
					return
				}
				l, okL = nextL()
				r, okR = nextR()
			}
		}
		for ; okL; l, okL = nextL() {
			if !yield(l) {
				return
			}
		}
		for ; okR; r, okR = nextR() {
			if !yield(r) {
				return
			}
		}
	}
}
