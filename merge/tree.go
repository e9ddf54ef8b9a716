package merge

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/colgraph/entity"
)

// ErrNoLevels is returned by Build without breakdown specs.
var ErrNoLevels = errors.New("merge: no breakdown levels")

// BreakdownSpec declares one level of a breakdown tree.
type BreakdownSpec struct {
	Level  string
	Entity entity.Type
}

// Node is one level of a breakdown tree. Inner nodes have children;
// nodes of the last inner level hold leaves.
type Node struct {
	children map[uint32]*Node
	leaves   *roaring.Bitmap
}

func newNode() *Node {
	return &Node{children: make(map[uint32]*Node)}
}

// Child returns the child keyed by id.
func (n *Node) Child(id uint32) (*Node, bool) {
	c, ok := n.children[id]
	return c, ok
}

// Keys returns the child ids in ascending order.
func (n *Node) Keys() []uint32 {
	return slices.Sorted(maps.Keys(n.children))
}

// Children yields the children in ascending id order.
func (n *Node) Children() iter.Seq2[uint32, *Node] {
	return func(yield func(uint32, *Node) bool) {
		for _, id := range n.Keys() {
			if !yield(id, n.children[id]) {
				return
			}
		}
	}
}

// Leaves returns the leaf ids of the node, or nil for inner nodes.
func (n *Node) Leaves() *roaring.Bitmap { return n.leaves }

// LeafSet returns the union of all leaves below n.
func (n *Node) LeafSet() *roaring.Bitmap {
	if n.leaves != nil {
		return n.leaves.Clone()
	}
	sets := make([]*roaring.Bitmap, 0, len(n.children))
	for _, c := range n.children {
		sets = append(sets, c.LeafSet())
	}
	return roaring.FastOr(sets...)
}

func (n *Node) optimize() {
	if n.leaves != nil {
		n.leaves.RunOptimize()
	}
	for _, c := range n.children {
		c.optimize()
	}
}

// Tree is a breakdown tree. Specs[0] is the root level and the last spec
// is the leaf level.
type Tree struct {
	Specs []BreakdownSpec
	Root  *Node
}

// Build nests reversed tuples (leaf field first, root field last) into a
// tree with one level per spec. Consecutive tuples sharing a path reuse
// the nodes of the previous tuple.
func Build(specs []BreakdownSpec, records iter.Seq[Tuple]) (*Tree, error) {
	if len(specs) == 0 {
		return nil, ErrNoLevels
	}
	arity := len(specs)
	inner := arity - 1

	root := newNode()
	if inner == 0 {
		root.leaves = roaring.New()
	}

	// path[i] is the node at depth i+1 of the previous tuple.
	path := make([]*Node, inner)
	prev := make(Tuple, arity)
	have := false

	for rec := range records {
		if len(rec) != arity {
			return nil, fmt.Errorf("%w: got %d fields, want %d", ErrArity, len(rec), arity)
		}

		// Shared prefix with the previous tuple, counted from the root.
		shared := 0
		if have {
			for shared < inner && rec[arity-1-shared] == prev[arity-1-shared] {
				shared++
			}
		}

		node := root
		if shared > 0 {
			node = path[shared-1]
		}
		for depth := shared; depth < inner; depth++ {
			key := rec[arity-1-depth]
			child, ok := node.children[key]
			if !ok {
				child = newNode()
				if depth == inner-1 {
					child.leaves = roaring.New()
				}
				node.children[key] = child
			}
			path[depth] = child
			node = child
		}
		node.leaves.Add(rec[0])

		copy(prev, rec)
		have = true
	}

	root.optimize()
	return &Tree{Specs: slices.Clone(specs), Root: root}, nil
}

// BuildFromHeap drains h into a tree.
func BuildFromHeap(specs []BreakdownSpec, h *Heap) (*Tree, error) {
	if h.Arity() != len(specs) {
		return nil, fmt.Errorf("%w: heap arity %d, %d levels", ErrArity, h.Arity(), len(specs))
	}
	return Build(specs, h.Drain())
}
