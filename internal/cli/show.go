package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bridge-sentinel/internal/app"
)

var (
	showKind  string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent samples, alerts, or orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Kind:  showKind,
			Limit: showLimit,
		})
	},
}

func init() {
	showCmd.Flags().StringVar(&showKind, "kind", "samples", "Record kind: samples, alerts, or orders")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of records to display")
}
