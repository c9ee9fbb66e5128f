package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/linktags/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "linktags",
	Short: "Tag bookmarks and keep them in sync across backends",
	Long: `linktags serves an HTTP API to tag bookmarks with undoable commands
and synchronizes the collection with WebDAV, GitHub, custom HTTP APIs and
browser-extension peers.

Settings come from LINKTAGS_* environment variables. Without a
subcommand the server is started.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ linktags: %v\n", err)
		os.Exit(1)
	}
}
