package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sefarad-mx/portal/internal/authsvc"
	"github.com/sefarad-mx/portal/internal/config"
)

func newMintTokenCmd() *cobra.Command {
	var (
		configPath string
		uid        string
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:     "mint-token",
		Short:   "Print a custom sign-in token for --token / SEFARAD_AUTH_TOKEN",
		GroupID: "backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if uid == "" {
				return fail(cmd, "--uid is required")
			}
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return fail(cmd, "load config: %w", err)
			}
			token, err := authsvc.New(cfg.Auth).MintCustomToken(uid, ttl)
			if err != nil {
				return fail(cmd, "mint token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "sefarad.yaml", "Path to backend config file")
	cmd.Flags().StringVar(&uid, "uid", "", "Subject the token signs in as")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}
