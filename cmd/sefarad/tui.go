package main

import (
	"context"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/sefarad-mx/portal/internal/app"
	"github.com/sefarad-mx/portal/internal/client"
	"github.com/sefarad-mx/portal/internal/config"
	"github.com/sefarad-mx/portal/internal/identity"
	"github.com/sefarad-mx/portal/internal/livequery"
	"github.com/sefarad-mx/portal/internal/syncctl"
)

type clientFlags struct {
	configPath    string
	appID         string
	backendConfig string
	endpoint      string
	token         string
	idToken       string
	logLevel      string
	logFile       string
}

func newTUICmd() *cobra.Command {
	var f clientFlags

	cmd := &cobra.Command{
		Use:     "tui",
		Short:   "Open the portal in the terminal",
		GroupID: "portal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return fail(cmd, "tui needs an interactive terminal")
			}
			cfg, err := loadClientConfig(f, cmd.Flags(), os.LookupEnv)
			if err != nil {
				return fail(cmd, "%w", err)
			}

			// The TUI owns the terminal, so logs go to a file.
			logOut, err := tea.LogToFile(f.logFile, "sefarad")
			if err != nil {
				return fail(cmd, "open log file: %w", err)
			}
			defer logOut.Close()
			logger := newLogger(logOut, cfg.LogLevel, "text")
			logger.Info("portal starting",
				"app", cfg.AppID, "endpoint", cfg.Endpoint(), "project", cfg.ProjectID())

			ctl := newController(cfg, logger)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- ctl.Run(ctx) }()

			p := tea.NewProgram(app.New(ctl), tea.WithAltScreen())
			_, runErr := p.Run()

			ctl.Dispose()
			cancel()
			<-done
			if runErr != nil {
				return fail(cmd, "%w", runErr)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "Path to client config file (YAML)")
	fl.StringVar(&f.appID, "app-id", "", "Tenant (app) identifier")
	fl.StringVar(&f.backendConfig, "backend-config", "", "Backend config as a JSON object")
	fl.StringVar(&f.endpoint, "endpoint", "", "Backend URL; shorthand for backend-config {\"endpoint\": ...}")
	fl.StringVar(&f.token, "token", "", "Custom sign-in token")
	fl.StringVar(&f.idToken, "id-token", "", "Resume an existing backend session")
	fl.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fl.StringVar(&f.logFile, "log-file", "sefarad.log", "Where the TUI writes its log")
	return cmd
}

// loadClientConfig merges, in increasing precedence, the YAML file, the
// environment and the flags the user actually set.
func loadClientConfig(f clientFlags, set *pflag.FlagSet, lookup func(string) (string, bool)) (config.Client, error) {
	cfg := config.DefaultClient()
	if f.configPath != "" {
		loaded, err := config.LoadClient(f.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}

	if set.Changed("app-id") && f.appID != "" {
		cfg.AppID = f.appID
	}
	if set.Changed("backend-config") {
		bc, err := config.ParseBackendConfig(f.backendConfig)
		if err != nil {
			return cfg, err
		}
		cfg.BackendConfig = bc
	}
	if set.Changed("endpoint") && f.endpoint != "" {
		bc := make(map[string]any, len(cfg.BackendConfig)+1)
		for k, v := range cfg.BackendConfig {
			bc[k] = v
		}
		bc["endpoint"] = f.endpoint
		cfg.BackendConfig = bc
	}
	if set.Changed("token") {
		cfg.BootstrapToken = f.token
	}
	if set.Changed("id-token") {
		cfg.IDToken = f.idToken
	}
	if set.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	return cfg, nil
}

// newController wires the HTTP identity provider and the WebSocket live
// query transport into a session-sync controller.
func newController(cfg config.Client, logger *slog.Logger) *syncctl.Controller {
	api := client.NewHTTPClient(cfg.Endpoint())
	auth := identity.NewHTTPAuth(api, cfg.IDToken, cfg.WatchInterval, logger)
	id := identity.New(auth,
		identity.WithAuthTimeout(cfg.AuthTimeout),
		identity.WithLogger(logger),
	)
	sub := livequery.NewSubscriber(livequery.NewWSTransport(cfg.Endpoint()),
		livequery.WithAttachTimeout(cfg.SubscribeTimeout),
		livequery.WithLogger(logger),
	)
	return syncctl.New(cfg, id, sub, syncctl.WithLogger(logger))
}
