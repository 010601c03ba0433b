package cli

import (
	"github.com/spf13/cobra"

	"depth-safety-alerts/internal/app"
)

var (
	drainDryRun   bool
	drainMaxLoops int
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Flush the offline submission queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.DrainOptions{
			DryRun:   drainDryRun,
			MaxLoops: drainMaxLoops,
		}

		return getApp().Drain(cmd.Context(), opts)
	},
}

func init() {
	drainCmd.Flags().BoolVar(&drainDryRun, "dry-run", false, "Report queue depths without syncing")
	drainCmd.Flags().IntVar(&drainMaxLoops, "max-loops", 0, "Maximum drain iterations (defaults to 100)")
}
