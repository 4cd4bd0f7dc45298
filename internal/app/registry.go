package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"bridge-sentinel/internal/registry"
)

// Registry validates the deployment registry and prints the accepted units.
func (a *App) Registry(_ context.Context) error {
	chains, err := a.chainSet()
	if err != nil {
		return err
	}

	units, skipped, err := registry.Load(a.Config.Registry.Path, chains)
	if err != nil {
		return err
	}

	for _, skipErr := range skipped {
		a.Logger.Error().Err(skipErr).Msg("registry entry rejected")
	}

	if len(units) == 0 {
		return fmt.Errorf("registry contains no valid deployments (%d rejected)", len(skipped))
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Unit\tSource\tTarget\tMode\tOracle")
	for _, unit := range units {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%s\t%s\n",
			unit.Symbol,
			unit.SourceChainID,
			unit.TargetChainID,
			unit.Mode,
			unit.Oracle.Hex(),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%d valid, %d rejected\n", len(units), len(skipped))
	return nil
}
