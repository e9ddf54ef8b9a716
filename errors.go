package colgraph

import (
	"errors"
	"fmt"

	"github.com/hupe1980/colgraph/archive"
	"github.com/hupe1980/colgraph/attr"
	"github.com/hupe1980/colgraph/blobstore"
	"github.com/hupe1980/colgraph/entity"
	"github.com/hupe1980/colgraph/link"
	"github.com/hupe1980/colgraph/parallel"
)

var (
	// ErrClosed is returned by operations on a closed DB.
	ErrClosed = errors.New("colgraph: closed")
	// ErrNotFound is returned when a column, blob or entity does not exist.
	ErrNotFound = errors.New("colgraph: not found")
	// ErrOverflow is returned when a value does not fit its column width.
	ErrOverflow = attr.ErrOverflow
	// ErrOutOfBounds is returned when a row id is outside its entity.
	ErrOutOfBounds = attr.ErrOutOfBounds
	// ErrMismatch is returned when relations or specs do not line up.
	ErrMismatch = link.ErrMismatch
	// ErrChecksum is returned when a fetched archive file is damaged.
	ErrChecksum = archive.ErrChecksum
)

// ErrWorkerPanic reports a panic recovered inside a batch worker.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrWorkerPanic struct {
	Batch string
	Value any
	cause error
}

func (e *ErrWorkerPanic) Error() string {
	return fmt.Sprintf("worker panic in %q: %v", e.Batch, e.Value)
}

func (e *ErrWorkerPanic) Unwrap() error { return e.cause }

func translateError(batch string, err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, blobstore.ErrNotFound) || errors.Is(err, entity.ErrUnknown) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var pe *parallel.PanicError
	if errors.As(err, &pe) {
		return &ErrWorkerPanic{Batch: batch, Value: pe.Value, cause: err}
	}

	return err
}
