package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paygraph/paygraph/pkg/enrich"
	"github.com/paygraph/paygraph/pkg/ingest"
	"github.com/paygraph/paygraph/pkg/status"
	"github.com/paygraph/paygraph/pkg/telemetry"
	"github.com/paygraph/paygraph/pkg/tui"
)

func runLoad(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := status.NewRunID()
	log := logrus.WithField("run_id", runID)

	tcfg := telemetry.DefaultConfig(version)
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.SamplingRatio = cfg.Telemetry.SamplingRatio
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.WithError(err).Warn("failed to flush traces")
		}
	}()

	if !verbose {
		tui.PrintHeader(os.Stdout, version, "payment graph loader")
	}

	s, err := openSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink(s, log)

	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	src, total, err := openSource(cfg, log)
	if err != nil {
		return err
	}

	opts := []ingest.Option{ingest.WithLogger(log)}
	if !verbose {
		opts = append(opts, ingest.WithObserver(tui.NewLoadProgress(os.Stdout, total)))
	}
	if cfg.Status.RedisAddress != "" {
		rcfg := status.DefaultRedisConfig(cfg.Status.RedisAddress)
		rcfg.Prefix = cfg.Status.Prefix
		rcfg.TTL = cfg.Status.TTL
		store, err := status.NewRedisStore(rcfg)
		if err != nil {
			log.WithError(err).Warn("run status disabled")
		} else {
			defer store.Close()
			opts = append(opts, ingest.WithObserver(
				status.NewPublisher(store, runID, cfg.Source.Kind, cfg.Sink.Backend, cfg.Status.Interval, log),
			))
		}
	}

	d := ingest.NewDispatcher(src, s, ingest.Config{
		BatchSize:   cfg.Load.BatchSize,
		Parallelism: cfg.Load.Parallelism,
	}, opts...)

	stats, loadErr := d.Run(ctx)
	if loadErr != nil {
		log.WithError(loadErr).Error("load failed")
	} else {
		log.Info(stats.Report())
	}

	var passes []enrich.PassResult
	if loadErr == nil && cfg.Enrich.Enabled && ctx.Err() == nil {
		runner := enrich.NewRunner(s, cfg.Load.BatchSize, cfg.Load.Parallelism, log)
		passes, loadErr = runner.Run(ctx, src)
	}

	tui.PrintSummary(os.Stdout, tui.Summary{
		RunID:   runID,
		Source:  cfg.Source.Kind,
		Backend: cfg.Sink.Backend,
		Stats:   stats,
		Passes:  passes,
		Err:     loadErr,
	})
	return loadErr
}
