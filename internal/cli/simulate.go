package cli

import (
	"github.com/spf13/cobra"

	"bridge-sentinel/internal/app"
)

var (
	simulateUnit      string
	simulateRatioD3   int64
	simulateOracleAge int64
	simulateSource    int64
	simulateTarget    int64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one pass with synthetic chain data to exercise alerting",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Unit:             simulateUnit,
			RatioD3:          simulateRatioD3,
			OracleAgeSeconds: simulateOracleAge,
			SourceValue:      simulateSource,
			TargetValue:      simulateTarget,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateUnit, "unit", "SIM", "Unit symbol to simulate")
	simulateCmd.Flags().Int64Var(&simulateRatioD3, "ratio-d3", 500, "Simulated source ratio in thousandths")
	simulateCmd.Flags().Int64Var(&simulateOracleAge, "oracle-age", 0, "Simulated oracle age in seconds")
	simulateCmd.Flags().Int64Var(&simulateSource, "source", 0, "Simulated source-side value in wei")
	simulateCmd.Flags().Int64Var(&simulateTarget, "target", 0, "Simulated target-side value in wei")
}
