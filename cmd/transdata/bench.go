package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-transdata/internal/bench"
	"github.com/example/go-transdata/internal/config"
)

func newBenchCmd() *cobra.Command {
	var (
		target     targetFlags
		runs       int
		cpuProfile string
		maxMean    time.Duration
		keepCold   bool
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark tiling latency for one case",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}

			c, ci, err := target.resolve(cfg)
			if err != nil {
				return err
			}

			stop, err := bench.StartCPUProfile(cpuProfile)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, stop())
			}()

			results, err := bench.Run(cmd.Context(), newTiler(cfg), ci, c.Input, c.Output, runs)
			if err != nil {
				return err
			}

			stats := bench.ComputeStats(bench.Durations(results, !keepCold))

			switch cfg.Output.Format {
			case config.FormatJSON:
				bench.FormatJSON(results, stats, cmd.OutOrStdout())
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			if err := bench.CheckIdempotent(results); err != nil {
				return err
			}
			return bench.CheckMeanThreshold(stats.Mean, maxMean)
		},
	}

	target.register(cmd)
	cmd.Flags().IntVar(&runs, "runs", 100, "Number of tiling runs")
	cmd.Flags().StringVar(&cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().DurationVar(&maxMean, "max-mean", 0, "Exit non-zero if the mean run time exceeds this (0 = disabled)")
	cmd.Flags().BoolVar(&keepCold, "keep-cold", false, "Include the first run in the statistics")

	return cmd
}
