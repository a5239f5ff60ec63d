package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"authkernel/internal/journal"
	"authkernel/internal/kernel"
	kmetrics "authkernel/internal/kernel/metrics"
	"authkernel/internal/kernel/models"
	"authkernel/internal/platform/metrics"
	"authkernel/internal/replay"
)

type replayOptions struct {
	events          string
	out             string
	runID           string
	metricsOut      string
	declareDeadlock bool
}

func newReplayCmd(a *app) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run an event log through one kernel and journal every output",
		Long: `Processes every event of a JSON-lines log in order, records the
result stream in the configured journal and optionally writes it as
JSON lines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), a, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.events, "events", "e", "", "JSON-lines event log")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the result stream as JSON lines to this file (- for stdout)")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Journal run id (default: random)")
	cmd.Flags().StringVar(&opts.metricsOut, "metrics-out", "", "Write Prometheus metrics to this textfile")
	cmd.Flags().BoolVar(&opts.declareDeadlock, "declare-deadlock", true, "Declare a deadlock if the final state is deadlocked")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}

func runReplay(ctx context.Context, stdout io.Writer, a *app, opts *replayOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	events, err := replay.ReadEventsFile(opts.events)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	procMetrics := metrics.New(reg)
	k, err := kernel.New(append(a.kernelOptions(), kernel.WithMetrics(kmetrics.New(reg)))...)
	if err != nil {
		return err
	}

	store, closeStore, err := openJournal(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	recOpts := []journal.Option{journal.WithLogger(a.logger)}
	if opts.runID != "" {
		run, err := journal.ParseRunID(opts.runID)
		if err != nil {
			return err
		}
		recOpts = append(recOpts, journal.WithRunID(run))
	}

	queue := make(chan journal.Entry, a.cfg.Journal.BufferSize)
	worker, err := journal.NewWorker(store, queue,
		journal.WithRetry(a.cfg.Journal.RetryAttempts, a.cfg.Journal.RetryBackoff),
		journal.WithBreaker(journalBreaker(a.cfg.Journal)),
		journal.WithWorkerLogger(a.logger),
	)
	if err != nil {
		return err
	}
	rec, err := journal.NewRecorder(store, append(recOpts, journal.WithQueue(queue))...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		defer close(queue)
		for _, ev := range events {
			if err := rec.Record(gctx, ev.Type(), k.ProcessEvent(gctx, ev)); err != nil {
				return err
			}
		}
		if !opts.declareDeadlock {
			return nil
		}
		if kind := k.Classify(); kind != models.DeadlockNone {
			return rec.RecordOutput(gctx, k.DeclareDeadlock(gctx))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("replay run %s: %w", rec.Run(), err)
	}

	entries, err := rec.Entries(ctx)
	if err != nil {
		return fmt.Errorf("read journal run %s: %w", rec.Run(), err)
	}
	procMetrics.AddJournalEntries(len(entries))
	procMetrics.ObserveReplay(time.Since(start))

	if err := writeResults(stdout, opts.out, entries); err != nil {
		return err
	}
	if opts.metricsOut != "" {
		if err := metrics.WriteTextfile(opts.metricsOut, reg); err != nil {
			return err
		}
	}

	a.logger.InfoContext(ctx, "replay complete",
		"run_id", rec.Run(),
		"events", len(events),
		"outputs", len(entries),
		"epoch", k.State().Epoch,
		"state_hash", k.StateID(),
	)
	if opts.out != "-" {
		fmt.Fprintf(stdout, "run %s: %d events, %d outputs, state %s\n",
			rec.Run(), len(events), len(entries), k.StateID())
	}
	return nil
}

func writeResults(stdout io.Writer, path string, entries []journal.Entry) error {
	switch path {
	case "":
		return nil
	case "-":
		return journal.EncodeJSONLines(stdout, entries)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	if err := journal.EncodeJSONLines(f, entries); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
