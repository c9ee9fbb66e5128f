package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/linktags/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the background sync loops",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	log := app.NewLogger(cfg)
	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	return a.Run()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
