package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sefarad-mx/portal/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sefarad",
		Short: "Sefarad MX genealogy portal",
		Long: `sefarad - terminal client and development backend for the Sefarad MX genealogy portal.

The tui command connects to a document backend, establishes a session and
renders the live family tree. The serve command runs that backend locally.`,
		SilenceUsage: true,
	}

	root.AddGroup(
		&cobra.Group{ID: "portal", Title: "Portal Commands:"},
		&cobra.Group{ID: "backend", Title: "Backend Commands:"},
	)
	root.SetHelpCommandGroupID("portal")
	root.SetCompletionCommandGroupID("portal")

	root.AddCommand(newTUICmd(), newServeCmd(), newMintTokenCmd())
	return root
}

// newLogger builds the structured logger used by every command.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func fail(cmd *cobra.Command, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	return err
}
