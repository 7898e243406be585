package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStepCmd(root *rootOptions) *cobra.Command {
	var (
		pulses int
		noSave bool
	)
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Advance the colony a fixed number of pulses without pacing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := openColony(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			done := c.eng.AdvanceN(ctx, pulses)
			slog.Info("steps complete", "pulses", humanize.Comma(int64(done)), "requested", humanize.Comma(int64(pulses)))

			if !noSave {
				if err := c.save(); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(c.sim.Status())
		},
	}
	cmd.Flags().IntVarP(&pulses, "pulses", "n", 1000, "number of pulses to advance")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "skip saving the colony afterwards")
	return cmd
}
