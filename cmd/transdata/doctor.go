package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/example/go-transdata/internal/doctor"
	"github.com/example/go-transdata/internal/server"
)

func newDoctorCmd() *cobra.Command {
	var probe string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run preflight checks over the case manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			dcfg := doctor.Config{
				GoVersion:    func() (string, error) { return runtime.Version(), nil },
				ManifestPath: cfg.Paths.Manifest,
				Tiler:        newTiler(cfg),
			}

			// The default manifest is optional.
			if _, statErr := os.Stat(cfg.Paths.Manifest); os.IsNotExist(statErr) {
				dcfg.ManifestPath = ""
			}

			if probe != "" {
				dcfg.ServerAddr = probe
				dcfg.ProbeServer = func() error { return server.ProbeHTTP(probe) }
			}

			result := doctor.Run(cmd.Context(), dcfg, out)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().StringVar(&probe, "probe", "", "Also probe a running server at this address")

	return cmd
}
