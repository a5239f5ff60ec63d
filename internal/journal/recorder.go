package journal

import (
	"context"
	"errors"
	"log/slog"

	"authkernel/internal/kernel/models"
)

// Recorder appends a run's results to a Store in stream order. It is owned
// by the goroutine driving the kernel, like the kernel itself.
type Recorder struct {
	store  Store
	run    RunID
	seq    int
	queue  chan<- Entry
	logger *slog.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithRunID records under run instead of a fresh random ID.
func WithRunID(run RunID) Option {
	return func(r *Recorder) {
		if run != "" {
			r.run = run
		}
	}
}

// WithQueue hands entries to a Worker through queue instead of appending
// synchronously. The store is still used to read the run back.
func WithQueue(queue chan<- Entry) Option {
	return func(r *Recorder) {
		r.queue = queue
	}
}

// NewRecorder creates a recorder for one run.
func NewRecorder(store Store, opts ...Option) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("journal store is required")
	}
	r := &Recorder{
		store: store,
		run:   NewRunID(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Run returns the run identifier entries are written under.
func (r *Recorder) Run() RunID {
	return r.run
}

// Next returns the sequence number the next entry will get.
func (r *Recorder) Next() int {
	return r.seq
}

// Record journals every output of one processed event.
func (r *Recorder) Record(ctx context.Context, eventType models.EventType, result models.KernelResult) error {
	return r.deliver(ctx, EntriesFor(r.run, r.seq, eventType, result))
}

// RecordOutput journals an output produced outside event processing, such as
// a deadlock declaration.
func (r *Recorder) RecordOutput(ctx context.Context, out models.KernelOutput) error {
	return r.deliver(ctx, []Entry{{
		RunID:   r.run,
		Seq:     r.seq,
		Output:  out,
		Primary: true,
	}})
}

// Entries reads the run back from the store.
func (r *Recorder) Entries(ctx context.Context) ([]Entry, error) {
	return r.store.ListByRun(ctx, r.run)
}

func (r *Recorder) deliver(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if r.queue == nil {
		if err := r.store.Append(ctx, entries...); err != nil {
			if r.logger != nil {
				r.logger.ErrorContext(ctx, "failed to append journal entries",
					"run_id", r.run,
					"seq", r.seq,
					"error", err,
				)
			}
			return err
		}
		r.seq += len(entries)
		return nil
	}
	for _, e := range entries {
		select {
		case r.queue <- e:
			r.seq++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
