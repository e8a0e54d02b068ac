package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/go-transdata/internal/cases"
	"github.com/example/go-transdata/internal/report"
	"github.com/example/go-transdata/internal/transdata"
)

func newTileCmd() *cobra.Command {
	var (
		target      targetFlags
		constRecord string
	)

	cmd := &cobra.Command{
		Use:   "tile",
		Short: "Compute tiling plans for one case or the whole manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			tiler := newTiler(cfg)

			var results []cases.Result
			if target.selected() {
				c, ci, err := target.resolve(cfg)
				if err != nil {
					return err
				}

				res := tileOne(cmd, tiler, c, ci)
				if res.Err == nil && constRecord != "" {
					if err := writeConstRecord(constRecord, res.RunInfo); err != nil {
						return err
					}
				}
				results = []cases.Result{res}
			} else {
				if constRecord != "" {
					return fmt.Errorf("--const-record needs --case or --compile-info")
				}

				mgr, err := cases.NewManager(cfg.Paths.Manifest)
				if err != nil {
					return err
				}

				results, err = mgr.RunAll(cmd.Context(), tiler, cfg.Tiling.Workers)
				if err != nil {
					return err
				}
			}

			if err := report.Write(cmd.OutOrStdout(), cfg.Output.Format, results); err != nil {
				return err
			}

			if failed := len(cases.Failed(results)); failed > 0 {
				return fmt.Errorf("%d of %d cases failed", failed, len(results))
			}
			return nil
		},
	}

	target.register(cmd)
	cmd.Flags().StringVar(&constRecord, "const-record", "", "Write the const tiling record for the selected case to this file")

	return cmd
}

func tileOne(cmd *cobra.Command, tiler *transdata.Tiler, c cases.Case, ci *transdata.CompileInfo) cases.Result {
	res := cases.Result{Case: c}

	start := time.Now()
	res.RunInfo, res.Err = tiler.TileContext(cmd.Context(), ci, c.Input, c.Output)
	res.Elapsed = time.Since(start)

	if res.Err == nil {
		res.Err = cases.Check(c, res.RunInfo)
	}

	return res
}

// writeConstRecord stores the block-dim record a const replay reads back.
func writeConstRecord(path string, ri transdata.RunInfo) error {
	data, err := json.MarshalIndent(transdata.ConstRecord(ri), "", "  ")
	if err != nil {
		return fmt.Errorf("encode const record: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write const record: %w", err)
	}

	return nil
}
