// Package cache provides a byte-bounded LRU for blocks of remote blobs.
//
// Cached bytes are charged to an optional resource.Controller so that the
// cache competes with column builders for the same memory budget. When the
// controller refuses a reservation the block is simply not cached.
package cache
