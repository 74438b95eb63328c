package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sefarad-mx/portal/internal/authsvc"
	"github.com/sefarad-mx/portal/internal/config"
	"github.com/sefarad-mx/portal/internal/docstore"
	"github.com/sefarad-mx/portal/internal/mock"
	"github.com/sefarad-mx/portal/internal/ws"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		mockMode   bool
		logLevel   string
		logFormat  string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the development document backend",
		GroupID: "backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fail(cmd, "load config: %w", err)
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			logger := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)

			store, err := docstore.Open(cfg.Store.Path)
			if err != nil {
				return fail(cmd, "%w", err)
			}
			defer store.Close()

			auth := authsvc.New(cfg.Auth)
			broadcaster := ws.NewBroadcaster(store, cfg.Listen.SnapshotThrottle,
				cfg.Listen.MaxConnections, cfg.Listen.MaxLimit, logger)
			defer broadcaster.Stop()
			server := ws.NewServer(store, auth, broadcaster, cfg.Server.AllowedOrigins, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if mockMode {
				gen := mock.NewGenerator(store, cfg.Mock, logger)
				if err := gen.Start(ctx); err != nil {
					return fail(cmd, "%w", err)
				}
				logger.Info("mock mode", "path", gen.Path(), "interval", cfg.Mock.Interval)
			}

			if err := ws.Serve(ctx, cfg.Addr(), server.Handler(), logger); err != nil {
				return fail(cmd, "server: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "sefarad.yaml", "Path to backend config file")
	cmd.Flags().IntVar(&port, "port", 0, "Override server port")
	cmd.Flags().BoolVar(&mockMode, "mock", false, "Seed and mutate a demo family tree")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	return cmd
}
