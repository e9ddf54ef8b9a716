// Package parallel fans a sequence of items out over a fixed number of
// worker goroutines.
//
// The feeder pushes items into a bounded channel of threads*capacity
// slots and blocks while it is full. Workers drain the channel until it is
// closed. Items are processed in no particular order; callers that need
// ordered output write results into slots keyed by input position.
//
// The first failing or panicking worker aborts the batch: the feeder
// stops, the remaining workers return, and Run reports that error.
package parallel
