package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"bridge-sentinel/internal/ratio"
	"bridge-sentinel/internal/storage"
)

// ShowOptions select what to print and how much of it.
type ShowOptions struct {
	Kind  string
	Limit int
}

// Show prints recent audit records from the database.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	switch opts.Kind {
	case "", "samples":
		return showSamples(ctx, store, opts.Limit)
	case "alerts":
		return showAlerts(ctx, store, opts.Limit)
	case "orders":
		return showOrders(ctx, store, opts.Limit)
	default:
		return fmt.Errorf("unknown record kind %q (want samples, alerts, or orders)", opts.Kind)
	}
}

func showSamples(ctx context.Context, store *storage.Store, limit int) error {
	samples, err := store.ListRecentSamples(ctx, limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tUnit\tRatio\tOracleAge\tFreshness\tVerdict\tStatus\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			sample.PassTS.UTC().Format(time.RFC3339),
			sample.Unit,
			formatRatioPtr(sample.RatioD3),
			formatAgePtr(sample.OracleAgeSeconds),
			sample.Freshness,
			sample.RatioVerdict,
			sample.Status,
			errMsg,
		)
	}

	return writer.Flush()
}

func showAlerts(ctx context.Context, store *storage.Store, limit int) error {
	alerts, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tUnit\tReason\tDirection\tRatio")

	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			alert.PassTS.UTC().Format(time.RFC3339),
			alert.Unit,
			alert.Reason,
			alert.Direction,
			formatRatioPtr(alert.RatioD3),
		)
	}

	return writer.Flush()
}

func showOrders(ctx context.Context, store *storage.Store, limit int) error {
	orders, err := store.ListRecentOrders(ctx, limit)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Fprintln(os.Stdout, "no orders found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tUnit\tDirection\tAmount (wei)\tStatus\tTx\tError")

	for _, order := range orders {
		errMsg := ""
		if order.Error != nil {
			errMsg = sanitizeInline(*order.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			order.PassTS.UTC().Format(time.RFC3339),
			order.Unit,
			order.Direction,
			order.Amount.String(),
			order.Status,
			order.TxHash,
			errMsg,
		)
	}

	return writer.Flush()
}

func formatRatioPtr(v *int64) string {
	if v == nil {
		return "-"
	}
	return ratio.FormatPercent(*v)
}

func formatAgePtr(v *int64) string {
	if v == nil {
		return "-"
	}
	return (time.Duration(*v) * time.Second).String()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
