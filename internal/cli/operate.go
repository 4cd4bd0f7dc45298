package cli

import (
	"github.com/spf13/cobra"

	"bridge-sentinel/internal/app"
)

var operateUnits []string

var operateCmd = &cobra.Command{
	Use:   "operate",
	Short: "Run the loop with rebalance execution for selected units",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{
			Operate: true,
			Units:   operateUnits,
		})
	},
}

func init() {
	operateCmd.Flags().StringSliceVar(&operateUnits, "units", nil, "Unit symbols to rebalance (defaults to operator.units)")
}
