package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paygraph/paygraph/pkg/ingest"
	"github.com/paygraph/paygraph/pkg/partition"
	"github.com/paygraph/paygraph/pkg/tui"
)

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logrus.WithField("command", "plan")
	src, _, err := openSource(cfg, log)
	if err != nil {
		return err
	}
	if err := src.Run(); err != nil {
		return err
	}
	defer src.Abort()

	fmt.Printf("Planning batches of %d across %d buckets\n\n", cfg.Load.BatchSize, cfg.Load.Parallelism)

	acc := ingest.NewAccumulator(src, cfg.Load.BatchSize)
	var (
		batches   int64
		records   int64
		overflow  int64
		collapsed int64
	)
	for planBatches == 0 || batches < int64(planBatches) {
		if ctx.Err() != nil {
			break
		}
		batch, err := acc.Next()
		if len(batch) > 0 {
			plan := partition.Partition(batch, cfg.Load.Parallelism)
			tui.PrintPlan(os.Stdout, batches, plan)

			batches++
			records += int64(len(batch))
			overflow += int64(plan.Overflow)
			if plan.Overflow == len(batch) {
				collapsed++
			}
		}
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			break
		}
	}

	if batches == 0 {
		fmt.Println("No records.")
		return nil
	}
	fmt.Printf("\n%d batches, %d records, %d in overflow (%.1f%%), %d batches fully serialized\n",
		batches, records, overflow, 100*float64(overflow)/float64(records), collapsed)
	return nil
}
