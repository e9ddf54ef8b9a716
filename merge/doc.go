// Package merge folds sorted relation tuples into breakdown trees.
//
// A Heap collects fixed-arity tuples and drains them once in strictly
// ascending order with exact duplicates collapsed. Each drained tuple is
// presented reversed, leaf field first, which is the order Build consumes.
// MergeUnique joins two sorted streams that are unique by a partial key.
// Build nests reversed tuples into a Tree whose leaves are roaring
// bitmaps, and Attach turns a Tree into a labeled tree for export.
package merge
