package cli

import (
	"github.com/spf13/cobra"

	"bridge-sentinel/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring loop (alerts only, no transactions)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{})
	},
}
