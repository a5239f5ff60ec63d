package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"authkernel/internal/journal"
	"authkernel/internal/kernel/models"
	"authkernel/internal/platform/metrics"
	"authkernel/internal/replay"
)

type verifyOptions struct {
	events     string
	results    string
	metricsOut string
	runs       int
}

func newVerifyCmd(a *app) *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Replay an event log on independent kernels and compare state hashes",
		Long: `Executes the event log on --runs fresh kernels concurrently and fails
at the first event whose state hash differs. With --results, the agreed
hash chain is also checked against a recorded result stream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd.Context(), cmd.OutOrStdout(), a, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.events, "events", "e", "", "JSON-lines event log")
	cmd.Flags().StringVarP(&opts.results, "results", "r", "", "Recorded result stream (JSON lines) to check against")
	cmd.Flags().IntVarP(&opts.runs, "runs", "n", 2, "Number of independent executions")
	cmd.Flags().StringVar(&opts.metricsOut, "metrics-out", "", "Write Prometheus metrics to this textfile")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}

func runVerify(ctx context.Context, stdout io.Writer, a *app, opts *verifyOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	events, err := replay.ReadEventsFile(opts.events)
	if err != nil {
		return err
	}

	v, err := replay.NewVerifier(
		replay.WithRuns(opts.runs),
		replay.WithKernelOptions(a.kernelOptions()...),
		replay.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	var recorded []journal.Entry
	if opts.results != "" {
		if recorded, err = readResults(opts.results); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	procMetrics := metrics.New(reg)
	start := time.Now()
	report, err := verify(ctx, v, events, recorded)
	procMetrics.ObserveReplay(time.Since(start))

	var div *replay.DivergenceError
	if errors.As(err, &div) {
		procMetrics.IncrementDivergences()
		fmt.Fprintf(stdout, "DIVERGED at event %d\n%s", div.Index, div.Diff)
	}
	if opts.metricsOut != "" {
		if werr := metrics.WriteTextfile(opts.metricsOut, reg); werr != nil && err == nil {
			err = werr
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "verified %d runs over %d events: state %s\n", len(report.Runs), report.Events, report.Final())
	return nil
}

func verify(ctx context.Context, v *replay.Verifier, events []models.Event, recorded []journal.Entry) (replay.Report, error) {
	if recorded != nil {
		return v.VerifyRecorded(ctx, events, recorded)
	}
	return v.Verify(ctx, events)
}

func readResults(path string) ([]journal.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results: %w", err)
	}
	defer f.Close()
	entries, err := journal.DecodeJSONLines[journal.Entry](f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}
