package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"bridge-sentinel/internal/storage"
)

// ExportOptions select the unit, window, and output targets.
type ExportOptions struct {
	Unit      string
	From      *time.Time
	To        *time.Time
	CSVPath   string
	PNGPath   string
	MaxPoints int
}

// Export renders one unit's ratio history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Unit == "" {
		return errors.New("--unit is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, opts.Unit, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("unit", opts.Unit).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Str("unit", opts.Unit).Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, opts.Unit, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.ReconcileSample, max int) []storage.ReconcileSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}

	result := make([]storage.ReconcileSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(path string, samples []storage.ReconcileSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"pass_ts", "unit", "ratio_d3", "oracle_age_seconds", "freshness", "ratio_verdict", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		record := []string{
			sample.PassTS.Format(time.RFC3339),
			sample.Unit,
			formatInt64Ptr(sample.RatioD3),
			formatInt64Ptr(sample.OracleAgeSeconds),
			sample.Freshness,
			sample.RatioVerdict,
			sample.Status,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path, unit string, samples []storage.ReconcileSample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	// Chart series must be gap-free; passes with read failures carry no
	// ratio and are dropped from the ratio series only.
	var (
		ratioX []time.Time
		ratioY []float64
		ageX   []time.Time
		ageY   []float64
	)
	for _, sample := range samples {
		if sample.RatioD3 != nil {
			ratioX = append(ratioX, sample.PassTS)
			ratioY = append(ratioY, float64(*sample.RatioD3)/10)
		}
		if sample.OracleAgeSeconds != nil {
			ageX = append(ageX, sample.PassTS)
			ageY = append(ageY, float64(*sample.OracleAgeSeconds))
		}
	}
	if len(ratioX) == 0 && len(ageX) == 0 {
		return errors.New("no plottable samples in export window")
	}

	percentFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Title:  unit + " source ratio",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Source ratio (%)",
			ValueFormatter: percentFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Oracle age (s)",
			ValueFormatter: percentFormatter,
		},
	}

	if len(ratioX) > 0 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Ratio %",
			XValues: ratioX,
			YValues: ratioY,
		})
	}
	if len(ageX) > 0 {
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    "Oracle age",
			XValues: ageX,
			YValues: ageY,
			YAxis:   chart.YAxisSecondary,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatInt64Ptr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
