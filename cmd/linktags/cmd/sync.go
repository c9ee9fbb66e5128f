package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/linktags/internal/app"
)

var syncCmd = &cobra.Command{
	Use:   "sync <service-id>",
	Short: "Run one synchronization and print the result",
	Long: `Load the services file, synchronize a single service and print the
result as JSON. No server or background loop is started.

Examples:
  linktags sync nextcloud
  LINKTAGS_SERVICE_FILE=./services.yaml linktags sync gist`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if cfg.SyncTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.SyncTimeout)
			defer cancel()
		}

		log := app.NewLogger(cfg)
		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.SyncOnce(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
