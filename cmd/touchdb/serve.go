package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fmedlin/touchdb/internal/config"
	"github.com/fmedlin/touchdb/internal/logging"
	"github.com/fmedlin/touchdb/internal/services"
)

func newServeCommand() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			logging.Init(cfg.Log.Level, cfg.Log.Format)

			mgr := services.NewManager(cfg, services.Options{ListenHost: host, Version: version})
			if err := mgr.Init(cmd.Context()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			mgr.Start(ctx)
			<-ctx.Done()
			slog.Info("Shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			mgr.Shutdown(shutdownCtx)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (defaults to the configured host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port")
	return cmd
}
