package archive

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the frame format of archived files.
type Compression uint8

const (
	// None stores files as they are.
	None Compression = iota
	// LZ4 favors speed.
	LZ4
	// Zstd favors ratio.
	Zstd
)

func (c Compression) String() string {
	switch c {
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	}
	return "none"
}

// Ext returns the object name suffix of c.
func (c Compression) Ext() string {
	switch c {
	case LZ4:
		return ".lz4"
	case Zstd:
		return ".zst"
	}
	return ""
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*c = None
	case "lz4":
		*c = LZ4
	case "zstd":
		*c = Zstd
	default:
		return fmt.Errorf("archive: unknown compression %q", text)
	}
	return nil
}

var (
	zstdEncoders sync.Pool
	zstdDecoders sync.Pool
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type zstdWriter struct{ *zstd.Encoder }

func (w zstdWriter) Close() error {
	err := w.Encoder.Close()
	w.Encoder.Reset(nil)
	zstdEncoders.Put(w.Encoder)
	return err
}

// compressor wraps w in an encoder for c. Closing the encoder flushes
// the frame but leaves w open.
func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopWriteCloser{w}, nil
	case LZ4:
		return lz4.NewWriter(w), nil
	case Zstd:
		if v := zstdEncoders.Get(); v != nil {
			enc := v.(*zstd.Encoder)
			enc.Reset(w)
			return zstdWriter{enc}, nil
		}
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		return zstdWriter{enc}, nil
	}
	return nil, fmt.Errorf("archive: unknown compression %d", c)
}

type zstdReader struct{ *zstd.Decoder }

func (r zstdReader) Close() error {
	_ = r.Decoder.Reset(nil)
	zstdDecoders.Put(r.Decoder)
	return nil
}

// decompressor wraps r in a decoder for c.
func decompressor(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case None:
		return io.NopCloser(r), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		if v := zstdDecoders.Get(); v != nil {
			dec := v.(*zstd.Decoder)
			if err := dec.Reset(r); err != nil {
				return nil, err
			}
			return zstdReader{dec}, nil
		}
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return zstdReader{dec}, nil
	}
	return nil, fmt.Errorf("archive: unknown compression %d", c)
}
