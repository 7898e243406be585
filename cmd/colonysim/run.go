package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/colony/internal/api"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var (
		port  int
		speed float64
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the colony in real time and serve the observation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.APIPort = port
			}

			c, err := openColony(cfg)
			if err != nil {
				return err
			}
			defer c.Close()
			c.eng.SetSpeed(speed)

			adminKey := os.Getenv("COLONYSIM_ADMIN_KEY")
			if adminKey == "" {
				slog.Warn("COLONYSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
			}
			apiServer := &api.Server{
				Sim:      c.sim,
				Eng:      c.eng,
				DB:       c.db,
				Port:     cfg.APIPort,
				AdminKey: adminKey,
			}
			apiServer.Start()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("colony running", "speed", speed, "pulse_interval", c.eng.Interval)
			c.eng.Run(ctx)
			slog.Info("shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP shutdown", "error", err)
			}

			if err := c.save(); err != nil {
				slog.Error("final save failed", "error", err)
				return err
			}
			slog.Info("final state saved, goodbye")
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "HTTP API port (overrides config)")
	cmd.Flags().Float64Var(&speed, "speed", 1, "pulses per interval multiplier, 0 pauses")
	return cmd
}
