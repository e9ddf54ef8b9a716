package parallel

import "iter"

// Range is the half-open row interval [Start, End).
type Range struct {
	Start, End int
}

// Len returns the number of rows in r.
func (r Range) Len() int { return r.End - r.Start }

// Ranges splits [0, n) into consecutive ranges of at most size rows.
func Ranges(n, size int) iter.Seq[Range] {
	if size < 1 {
		size = 1
	}
	return func(yield func(Range) bool) {
		for start := 0; start < n; start += size {
			if !yield(Range{Start: start, End: min(start+size, n)}) {
				return
			}
		}
	}
}
