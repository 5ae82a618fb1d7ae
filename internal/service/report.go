package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"steam-price-reporter/internal/alerting"
	"steam-price-reporter/internal/baseline"
	"steam-price-reporter/internal/chart"
	"steam-price-reporter/internal/storage"
)

var (
	// ErrEmptySeries means the item has never been sampled.
	ErrEmptySeries = errors.New("series is empty")
	// ErrEmptyWindow means no usable sample falls inside the report window.
	ErrEmptyWindow = errors.New("no samples in report window")
)

// DefaultWindow is the trailing period covered by a report.
const DefaultWindow = 7 * 24 * time.Hour

// Report is the derived state of one item's report cycle.
type Report struct {
	Item           string
	GeneratedAt    time.Time
	Window         []storage.Sample
	Today          decimal.Decimal
	WeekAgo        decimal.Decimal
	Previous       decimal.Decimal
	BaselineStored bool
	Day            Delta
	Week           Delta
	Chart          chart.Request
	Caption        string
}

// ReportOptions parameterise a ReportBuilder.
type ReportOptions struct {
	Window         time.Duration
	CurrencySymbol string
	Location       *time.Location
	Now            func() time.Time
}

// ReportResult summarises one reporting pass.
type ReportResult struct {
	Delivered int
	Failed    []string
}

// ReportBuilder turns a stored series into a chart and a caption and hands
// them to the plotter and notifier.
type ReportBuilder struct {
	series   storage.SeriesStore
	tracker  *baseline.Tracker
	plotter  chart.Plotter
	notifier alerting.Notifier
	opts     ReportOptions
	logger   zerolog.Logger
}

// NewReportBuilder constructs a ReportBuilder. plotter and notifier may be
// nil, in which case the report is built but not rendered or sent.
func NewReportBuilder(series storage.SeriesStore, tracker *baseline.Tracker, plotter chart.Plotter, notifier alerting.Notifier, opts ReportOptions, logger zerolog.Logger) *ReportBuilder {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ReportBuilder{
		series:   series,
		tracker:  tracker,
		plotter:  plotter,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "report").Logger(),
	}
}

// Build derives the report for item and rolls its baseline over to today's
// price. The old baseline is read and compared before the new one is written.
func (b *ReportBuilder) Build(ctx context.Context, item string) (*Report, error) {
	samples, err := b.series.ReadAll(ctx, item)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(samples) == 0) {
		return nil, fmt.Errorf("%s: %w", item, ErrEmptySeries)
	}
	if err != nil {
		return nil, fmt.Errorf("read series %q: %w", item, err)
	}

	now := b.opts.Now()
	window := SelectWindow(samples, now, b.opts.Window)
	if len(window) == 0 {
		return nil, fmt.Errorf("%s: %w", item, ErrEmptyWindow)
	}

	today := window[len(window)-1].Price
	weekAgo := window[0].Price

	unlock := b.tracker.Lock(item)
	previous, stored, err := b.tracker.Effective(ctx, item, today)
	if err != nil {
		unlock()
		return nil, err
	}
	day := ComputeDelta(today, previous)
	week := ComputeDelta(today, weekAgo)
	if err := b.tracker.Set(ctx, item, today); err != nil {
		// the report itself is still valid; the next cycle compares against the stale value
		b.logger.Error().Err(err).Str("item", item).Msg("failed to roll baseline over")
	}
	unlock()

	if !stored {
		b.logger.Info().Str("item", item).Msg("no stored baseline; using today's price")
	}

	report := &Report{
		Item:           item,
		GeneratedAt:    now,
		Window:         window,
		Today:          today,
		WeekAgo:        weekAgo,
		Previous:       previous,
		BaselineStored: stored,
		Day:            day,
		Week:           week,
	}
	report.Chart = b.chartRequest(report)
	report.Caption = b.caption(report)
	return report, nil
}

// SelectWindow returns the in-domain samples with timestamp >= now - window,
// in storage order.
func SelectWindow(samples []storage.Sample, now time.Time, window time.Duration) []storage.Sample {
	cutoff := now.Add(-window)
	out := make([]storage.Sample, 0, len(samples))
	for _, s := range samples {
		if !s.Valid() || s.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (b *ReportBuilder) chartRequest(r *Report) chart.Request {
	points := make([]chart.Point, len(r.Window))
	for i, s := range r.Window {
		points[i] = chart.Point{Time: s.Timestamp, Price: s.Price}
	}
	return chart.Request{
		Title:  r.Item + " price over last week",
		Points: points,
		Annotations: []chart.Annotation{
			{Anchor: chart.AnchorSummary, Label: fmt.Sprintf("Week Price Change: %s %s", r.Week.AbsString(b.opts.CurrencySymbol), r.Week.PctString())},
			{Anchor: chart.AnchorStart, Label: r.WeekAgo.StringFixed(2)},
			{Anchor: chart.AnchorEnd, Label: r.Today.StringFixed(2)},
		},
	}
}

func (b *ReportBuilder) caption(r *Report) string {
	first := r.Window[0].Timestamp.In(b.opts.Location).Format(storage.TimestampLayout)
	last := r.Window[len(r.Window)-1].Timestamp.In(b.opts.Location).Format(storage.TimestampLayout)
	return fmt.Sprintf("%s: %s %s (%s -> %s)\nFrom %s to %s",
		r.Item,
		r.Day.AbsString(b.opts.CurrencySymbol),
		r.Day.PctString(),
		r.Previous.StringFixed(2),
		r.Today.StringFixed(2),
		first,
		last,
	)
}

// Deliver renders the chart and sends it with the caption. A render failure
// degrades to a text-only message.
func (b *ReportBuilder) Deliver(ctx context.Context, r *Report) error {
	var image []byte
	if b.plotter != nil {
		img, err := b.plotter.Render(ctx, r.Chart)
		if err != nil {
			b.logger.Error().Err(err).Str("item", r.Item).Msg("chart rendering failed; sending text only")
		} else {
			image = img
		}
	}

	if b.notifier == nil {
		return nil
	}
	note := alerting.Notification{Item: r.Item, Text: r.Caption, Image: image}
	if err := b.notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("deliver report %q: %w", r.Item, err)
	}
	return nil
}

// RunCycle builds and delivers a report for each item. A failure for one item
// is logged and does not affect the rest; the failures are returned joined.
func (b *ReportBuilder) RunCycle(ctx context.Context, items []string) (ReportResult, error) {
	var (
		result ReportResult
		errs   []error
	)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		report, err := b.Build(ctx, item)
		if err != nil {
			b.logger.Error().Err(err).Str("item", item).Msg("report skipped")
			result.Failed = append(result.Failed, item)
			errs = append(errs, err)
			continue
		}

		if err := b.Deliver(ctx, report); err != nil {
			b.logger.Error().Err(err).Str("item", item).Msg("report delivery failed")
			result.Failed = append(result.Failed, item)
			errs = append(errs, err)
			continue
		}

		result.Delivered++
		b.logger.Info().
			Str("item", item).
			Str("today", report.Today.String()).
			Str("day_delta", report.Day.PctString()).
			Str("week_delta", report.Week.PctString()).
			Int("window", len(report.Window)).
			Msg("report delivered")
	}

	return result, errors.Join(errs...)
}
