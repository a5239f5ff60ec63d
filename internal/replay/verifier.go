// Package replay re-executes event logs on independent kernels and checks
// that every execution produces the same state hash chain.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"authkernel/internal/journal"
	"authkernel/internal/kernel"
	"authkernel/internal/kernel/models"
)

// ErrDivergence is matched by every DivergenceError.
var ErrDivergence = errors.New("replay diverged")

// DivergenceError reports the first event whose state hash differs between
// two chains.
type DivergenceError struct {
	Index int
	Left  journal.RunID
	Right journal.RunID
	Diff  string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("replay diverged at event %d between runs %s and %s", e.Index, e.Left, e.Right)
}

func (e *DivergenceError) Unwrap() error { return ErrDivergence }

// Run is one execution of the event log.
type Run struct {
	ID       journal.RunID
	Chain    []string
	Failures int
}

// Report summarizes a verification. Chain is the agreed state hash chain.
type Report struct {
	Events int
	Runs   []Run
	Chain  []string
}

// Final returns the state hash after the last event, or "" for an empty log.
func (r Report) Final() string {
	if len(r.Chain) == 0 {
		return ""
	}
	return r.Chain[len(r.Chain)-1]
}

// Factory builds the kernel for the run-th execution.
type Factory func(run int) (*kernel.Kernel, error)

// Verifier runs an event log on several fresh kernels concurrently.
type Verifier struct {
	runs       int
	newKernel  Factory
	kernelOpts []kernel.Option
	logger     *slog.Logger
}

type Option func(*Verifier)

// WithRuns sets how many independent executions are compared.
func WithRuns(n int) Option {
	return func(v *Verifier) {
		v.runs = n
	}
}

// WithKernelOptions configures every kernel the default factory builds.
func WithKernelOptions(opts ...kernel.Option) Option {
	return func(v *Verifier) {
		v.kernelOpts = append(v.kernelOpts, opts...)
	}
}

// WithFactory replaces the default kernel construction.
func WithFactory(f Factory) Option {
	return func(v *Verifier) {
		v.newKernel = f
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// NewVerifier creates a verifier. It defaults to two runs.
func NewVerifier(opts ...Option) (*Verifier, error) {
	v := &Verifier{runs: 2}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	if v.runs < 1 {
		return nil, fmt.Errorf("replay runs must be positive, got %d", v.runs)
	}
	if v.newKernel == nil {
		v.newKernel = func(int) (*kernel.Kernel, error) {
			return kernel.New(v.kernelOpts...)
		}
	}
	return v, nil
}

// Verify executes events on every run and compares the state hash chains.
// A mismatch returns the partial report and a *DivergenceError.
func (v *Verifier) Verify(ctx context.Context, events []models.Event) (Report, error) {
	runs := make([]Run, v.runs)
	g, ctx := errgroup.WithContext(ctx)
	for i := range runs {
		runs[i].ID = journal.NewRunID()
		g.Go(func() error {
			k, err := v.newKernel(i)
			if err != nil {
				return fmt.Errorf("build kernel for run %d: %w", i, err)
			}
			chain := make([]string, 0, len(events))
			for _, ev := range events {
				if err := ctx.Err(); err != nil {
					return err
				}
				r := k.ProcessEvent(ctx, ev)
				if r.Failed() {
					runs[i].Failures++
				}
				chain = append(chain, r.Output.StateHash)
			}
			runs[i].Chain = chain
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	report := Report{Events: len(events), Runs: runs, Chain: runs[0].Chain}
	for _, other := range runs[1:] {
		if err := compare(runs[0].ID, runs[0].Chain, other.ID, other.Chain); err != nil {
			v.logDivergence(ctx, err)
			return report, err
		}
	}
	if v.logger != nil {
		v.logger.InfoContext(ctx, "replay verified",
			"runs", len(runs),
			"events", len(events),
			"final_state_hash", report.Final(),
		)
	}
	return report, nil
}

// VerifyRecorded verifies events and then checks the agreed chain against the
// primary entries of a recorded journal. Entries without an event type, such
// as deadlock declarations, are not part of the chain.
func (v *Verifier) VerifyRecorded(ctx context.Context, events []models.Event, recorded []journal.Entry) (Report, error) {
	report, err := v.Verify(ctx, events)
	if err != nil {
		return report, err
	}

	var (
		chain []string
		run   journal.RunID
	)
	for _, e := range recorded {
		if !e.Primary || e.EventType == "" {
			continue
		}
		chain = append(chain, e.Output.StateHash)
		run = e.RunID
	}
	if err := compare(report.Runs[0].ID, report.Chain, run, chain); err != nil {
		v.logDivergence(ctx, err)
		return report, err
	}
	return report, nil
}

func compare(leftID journal.RunID, left []string, rightID journal.RunID, right []string) error {
	diff := cmp.Diff(left, right)
	if diff == "" {
		return nil
	}
	index := min(len(left), len(right))
	for i := range index {
		if left[i] != right[i] {
			index = i
			break
		}
	}
	return &DivergenceError{Index: index, Left: leftID, Right: rightID, Diff: diff}
}

func (v *Verifier) logDivergence(ctx context.Context, err error) {
	if v.logger == nil {
		return
	}
	var div *DivergenceError
	if errors.As(err, &div) {
		v.logger.ErrorContext(ctx, "replay diverged",
			"event_index", div.Index,
			"left_run", div.Left,
			"right_run", div.Right,
		)
	}
}
