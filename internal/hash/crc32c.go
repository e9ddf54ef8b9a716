// Package hash computes the CRC32-Castagnoli checksums recorded in
// archive manifests.
package hash

import (
	"hash"
	"hash/crc32"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Digest checksums and counts the bytes written to it.
type Digest struct {
	h hash.Hash32
	n int64
}

// NewDigest creates an empty Digest.
func NewDigest() *Digest {
	return &Digest{h: crc32.New(castagnoli)}
}

// Write implements io.Writer. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	d.h.Write(p)
	d.n += int64(len(p))
	return len(p), nil
}

// Sum returns the checksum of the bytes written so far.
func (d *Digest) Sum() uint32 { return d.h.Sum32() }

// Size returns the number of bytes written so far.
func (d *Digest) Size() int64 { return d.n }
