package parallel

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCapacity is the number of channel slots per worker.
const DefaultCapacity = 100

// Worker processes items. Process is called concurrently and must only
// mutate shared state through explicit synchronization.
type Worker[T any] interface {
	Process(ctx context.Context, item T) error
}

// Capacitor overrides DefaultCapacity.
type Capacitor interface {
	Capacity() int
}

// PostProcessor runs once after every worker has returned.
type PostProcessor interface {
	Post(ctx context.Context) error
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc[T any] func(ctx context.Context, item T) error

// Process calls f.
func (f WorkerFunc[T]) Process(ctx context.Context, item T) error { return f(ctx, item) }

// Stats describes a finished batch.
type Stats struct {
	Name     string
	Threads  int
	Items    int64
	Duration time.Duration
	Err      error
}

// Options configures a batch.
type Options struct {
	Name     string
	Threads  int
	Capacity int
	Logger   *slog.Logger
	OnDone   func(Stats)
}

// Option configures a batch.
type Option func(*Options)

// WithName labels the batch in logs and stats.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithThreads sets the number of workers. Values below 1 select
// runtime.GOMAXPROCS(0).
func WithThreads(n int) Option {
	return func(o *Options) { o.Threads = n }
}

// WithCapacity sets the channel slots per worker, overriding Capacitor.
func WithCapacity(n int) Option {
	return func(o *Options) { o.Capacity = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithOnDone registers a callback receiving the batch stats.
func WithOnDone(fn func(Stats)) Option {
	return func(o *Options) { o.OnDone = fn }
}

func resolve(w any, optFns []Option) Options {
	opts := Options{Name: "batch"}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Threads < 1 {
		opts.Threads = runtime.GOMAXPROCS(0)
	}
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCapacity
		if c, ok := w.(Capacitor); ok && c.Capacity() > 0 {
			opts.Capacity = c.Capacity()
		}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return opts
}

// PanicError is returned when a worker or the input sequence panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("parallel: worker panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func recoverTo(err *error) {
	if r := recover(); r != nil {
		*err = &PanicError{Value: r, Stack: debug.Stack()}
	}
}

// Run processes every item of seq with w and returns when all workers
// have finished and the post-processing hook, if any, has run.
func Run[T any](ctx context.Context, w Worker[T], seq iter.Seq[T], optFns ...Option) error {
	opts := resolve(w, optFns)
	start := time.Now()

	var items atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	ch := make(chan T, opts.Threads*opts.Capacity)

	for range opts.Threads {
		g.Go(func() (err error) {
			defer recoverTo(&err)
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case item, ok := <-ch:
					if !ok {
						return nil
					}
					if err := w.Process(gctx, item); err != nil {
						return err
					}
					items.Add(1)
				}
			}
		})
	}

	feedErr := feed(gctx, ch, seq)
	err := g.Wait()
	if err == nil {
		err = feedErr
	}
	if err == nil {
		if p, ok := w.(PostProcessor); ok {
			err = p.Post(ctx)
		}
	}

	stats := Stats{
		Name:     opts.Name,
		Threads:  opts.Threads,
		Items:    items.Load(),
		Duration: time.Since(start),
		Err:      err,
	}
	if err != nil {
		opts.Logger.Error("batch failed",
			slog.String("batch", stats.Name),
			slog.Int64("items", stats.Items),
			slog.String("error", err.Error()),
		)
	} else {
		opts.Logger.Debug("batch done",
			slog.String("batch", stats.Name),
			slog.Int("threads", stats.Threads),
			slog.Int64("items", stats.Items),
			slog.Duration("duration", stats.Duration),
		)
	}
	if opts.OnDone != nil {
		opts.OnDone(stats)
	}
	return err
}

// feed pushes seq into ch and closes it, which ends every worker.
func feed[T any](ctx context.Context, ch chan<- T, seq iter.Seq[T]) (err error) {
	defer close(ch)
	defer recoverTo(&err)

	for item := range seq {
		select {
		case ch <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
