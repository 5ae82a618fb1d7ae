package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"steam-price-reporter/internal/chart"
	"steam-price-reporter/internal/config"
	"steam-price-reporter/internal/service"
	"steam-price-reporter/internal/storage"
)

const defaultExportPoints = 2000

// Export writes one item's samples within a time range as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Item == "" {
		return errors.New("--item is required")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = defaultExportPoints
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	to := time.Now()
	if opts.To != nil {
		to = *opts.To
	}
	from := to.Add(-a.Config.Report.Window)
	if opts.From != nil {
		from = *opts.From
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	all, err := store.ReadAll(ctx, opts.Item)
	if err != nil {
		return fmt.Errorf("read %q: %w", opts.Item, err)
	}
	samples := between(all, from, to)
	if len(samples) == 0 {
		a.Logger.Info().Str("item", opts.Item).Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Str("item", opts.Item).Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := a.writeSamplesPNG(ctx, opts.PNGPath, opts.Item, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// between keeps valid samples with from <= ts <= to.
func between(samples []storage.Sample, from, to time.Time) []storage.Sample {
	out := make([]storage.Sample, 0, len(samples))
	for _, s := range samples {
		if !s.Valid() || s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func downsampleSamples(samples []storage.Sample, max int) []storage.Sample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.Sample, 0, max)
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

func writeSamplesCSV(path string, samples []storage.Sample) error {
	if err := chart.EnsureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"timestamp", "price"}); err != nil {
		return err
	}
	for _, sample := range samples {
		record := []string{
			sample.Timestamp.Format(storage.TimestampLayout),
			sample.Price.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func (a *App) writeSamplesPNG(ctx context.Context, path, item string, samples []storage.Sample) error {
	loc, err := config.LoadLocation(a.Config.Scheduler.Timezone)
	if err != nil {
		return err
	}
	renderer := chart.NewRenderer(chart.Options{
		Path:     path,
		Width:    a.Config.Report.ChartWidth,
		Height:   a.Config.Report.ChartHeight,
		Location: loc,
	}, a.Logger)

	points := make([]chart.Point, len(samples))
	for i, s := range samples {
		points[i] = chart.Point{Time: s.Timestamp, Price: s.Price}
	}
	first, last := samples[0].Price, samples[len(samples)-1].Price
	change := service.ComputeDelta(last, first)
	symbol := service.CurrencySymbol(a.Config.Report.CurrencySymbol, a.Config.Steam.Currency)

	_, err = renderer.Render(ctx, chart.Request{
		Title:  item + " price history",
		Points: points,
		Annotations: []chart.Annotation{
			{Anchor: chart.AnchorSummary, Label: fmt.Sprintf("Change: %s %s", change.AbsString(symbol), change.PctString())},
			{Anchor: chart.AnchorStart, Label: first.StringFixed(2)},
			{Anchor: chart.AnchorEnd, Label: last.StringFixed(2)},
		},
	})
	return err
}
