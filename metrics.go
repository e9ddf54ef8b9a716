package colgraph

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/colgraph/attr"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordColumnWrite is called after a column has been committed.
	// bytes is the size of the data and offset files.
	RecordColumnWrite(kind attr.Kind, width attr.Width, rows int, bytes int64)

	// RecordDerive is called after each link derivation.
	RecordDerive(op string, duration time.Duration, err error)

	// RecordBatch is called after each parallel batch with the number of
	// items fed to the workers.
	RecordBatch(items int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordColumnWrite(attr.Kind, attr.Width, int, int64) {}
func (NoopMetricsCollector) RecordDerive(string, time.Duration, error)         {}
func (NoopMetricsCollector) RecordBatch(int64, time.Duration, error)           {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	ColumnWrites     atomic.Int64
	VarColumnWrites  atomic.Int64
	ColumnRows       atomic.Int64
	ColumnBytes      atomic.Int64
	DeriveCount      atomic.Int64
	DeriveErrors     atomic.Int64
	DeriveTotalNanos atomic.Int64
	BatchCount       atomic.Int64
	BatchItems       atomic.Int64
	BatchErrors      atomic.Int64
}

// RecordColumnWrite implements MetricsCollector.
func (b *BasicMetricsCollector) RecordColumnWrite(kind attr.Kind, _ attr.Width, rows int, bytes int64) {
	b.ColumnWrites.Add(1)
	if kind == attr.Var {
		b.VarColumnWrites.Add(1)
	}
	b.ColumnRows.Add(int64(rows))
	b.ColumnBytes.Add(bytes)
}

// RecordDerive implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDerive(_ string, duration time.Duration, err error) {
	b.DeriveCount.Add(1)
	b.DeriveTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.DeriveErrors.Add(1)
	}
}

// RecordBatch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBatch(items int64, _ time.Duration, err error) {
	b.BatchCount.Add(1)
	b.BatchItems.Add(items)
	if err != nil {
		b.BatchErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		ColumnWrites:    b.ColumnWrites.Load(),
		VarColumnWrites: b.VarColumnWrites.Load(),
		ColumnRows:      b.ColumnRows.Load(),
		ColumnBytes:     b.ColumnBytes.Load(),
		DeriveCount:     b.DeriveCount.Load(),
		DeriveErrors:    b.DeriveErrors.Load(),
		DeriveAvgNanos:  b.getAvgDeriveNanos(),
		BatchCount:      b.BatchCount.Load(),
		BatchItems:      b.BatchItems.Load(),
		BatchErrors:     b.BatchErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgDeriveNanos() int64 {
	count := b.DeriveCount.Load()
	if count == 0 {
		return 0
	}
	return b.DeriveTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	ColumnWrites    int64
	VarColumnWrites int64
	ColumnRows      int64
	ColumnBytes     int64
	DeriveCount     int64
	DeriveErrors    int64
	DeriveAvgNanos  int64
	BatchCount      int64
	BatchItems      int64
	BatchErrors     int64
}
