package cli

import (
	"github.com/spf13/cobra"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Validate the deployment registry and print accepted units",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Registry(cmd.Context())
	},
}
