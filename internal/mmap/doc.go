// Package mmap maps finished column files read-only into memory.
//
// Derivation passes scan relation payloads front to back, so callers
// usually advise [Sequential] right after opening; point lookups on fixed
// columns use [Random]. On platforms without mmap(2) the file is read into
// the heap instead and advice is ignored.
package mmap
