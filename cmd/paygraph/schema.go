package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func runSchema(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logrus.WithField("command", "schema")
	s, err := openSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSink(s, log)

	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	fmt.Printf("Schema ready on %s (%d statements)\n", cfg.Sink.Backend, len(s.Dialect().Schema()))
	return nil
}
