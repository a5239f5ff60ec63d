package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"authkernel/pkg/platform/circuit"
	"authkernel/pkg/platform/sentinel"
)

// Worker consumes journal entries from a channel and persists them, keeping
// storage latency off the kernel's path.
type Worker struct {
	store    Store
	inbox    <-chan Entry
	attempts int
	backoff  time.Duration
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithRetry retries a failed append up to attempts times in total, waiting
// backoff between tries. Duplicate entries are never retried.
func WithRetry(attempts int, backoff time.Duration) WorkerOption {
	return func(w *Worker) {
		if attempts > 0 {
			w.attempts = attempts
		}
		if backoff >= 0 {
			w.backoff = backoff
		}
	}
}

// WithBreaker stops retrying once b opens.
func WithBreaker(b *circuit.Breaker) WorkerOption {
	return func(w *Worker) {
		w.breaker = b
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(store Store, inbox <-chan Entry, opts ...WorkerOption) (*Worker, error) {
	if store == nil {
		return nil, errors.New("journal store is required")
	}
	if inbox == nil {
		return nil, errors.New("journal inbox is required")
	}
	w := &Worker{store: store, inbox: inbox, attempts: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run persists entries until the inbox is closed and drained (returning nil)
// or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.append(ctx, entry); err != nil {
				return fmt.Errorf("append journal entry %s/%d: %w", entry.RunID, entry.Seq, err)
			}
		}
	}
}

func (w *Worker) append(ctx context.Context, entry Entry) error {
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err = w.store.Append(ctx, entry); err == nil {
			if w.breaker != nil {
				w.breaker.RecordSuccess()
			}
			return nil
		}
		if errors.Is(err, sentinel.ErrConflict) {
			return err
		}
		if w.breaker != nil {
			if open, change := w.breaker.RecordFailure(); open {
				if change.Opened && w.logger != nil {
					w.logger.WarnContext(ctx, "journal circuit opened",
						"breaker", w.breaker.Name(),
						"error", err,
					)
				}
				return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
			}
		}
		if w.logger != nil {
			w.logger.WarnContext(ctx, "journal append failed",
				"run_id", entry.RunID,
				"seq", entry.Seq,
				"attempt", attempt,
				"error", err,
			)
		}
		if attempt == w.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff):
		}
	}
	return err
}
