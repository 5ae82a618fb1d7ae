package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steam-price-reporter/internal/alerting"
	"steam-price-reporter/internal/baseline"
	"steam-price-reporter/internal/chart"
	"steam-price-reporter/internal/storage"
)

var reportNow = time.Date(2024, time.March, 11, 21, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return reportNow.Add(-time.Duration(d) * 24 * time.Hour)
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakePlotter struct {
	mu       sync.Mutex
	requests []chart.Request
	err      error
}

func (p *fakePlotter) Render(ctx context.Context, req chart.Request) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return []byte("png:" + req.Title), nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []alerting.Notification
	failing map[string]bool
}

func (n *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failing[note.Item] {
		return alerting.ErrDelivery
	}
	n.sent = append(n.sent, note)
	return nil
}

type reportFixture struct {
	store    *storage.MemoryStore
	plotter  *fakePlotter
	notifier *fakeNotifier
	builder  *ReportBuilder
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	plotter := &fakePlotter{}
	notifier := &fakeNotifier{failing: map[string]bool{}}
	builder := NewReportBuilder(store, baseline.NewTracker(store), plotter, notifier, ReportOptions{
		CurrencySymbol: "₽",
		Location:       time.UTC,
		Now:            func() time.Time { return reportNow },
	}, zerolog.Nop())
	return &reportFixture{store: store, plotter: plotter, notifier: notifier, builder: builder}
}

func (f *reportFixture) append(t *testing.T, item string, at time.Time, p string) {
	t.Helper()
	require.NoError(t, f.store.Append(context.Background(), item, storage.Sample{Timestamp: at, Price: price(p)}))
}

func TestSelectWindow(t *testing.T) {
	samples := []storage.Sample{
		{Timestamp: daysAgo(10), Price: price("1")},
		{Timestamp: daysAgo(6), Price: price("2")},
		{Timestamp: daysAgo(4), Price: price("-1")},
		{Timestamp: daysAgo(3), Price: price("3")},
		{Timestamp: daysAgo(0), Price: price("4")},
	}

	window := SelectWindow(samples, reportNow, DefaultWindow)
	require.Len(t, window, 3)
	assert.True(t, window[0].Price.Equal(price("2")))
	assert.True(t, window[1].Price.Equal(price("3")))
	assert.True(t, window[2].Price.Equal(price("4")))

	edge := SelectWindow([]storage.Sample{{Timestamp: daysAgo(7), Price: price("9")}}, reportNow, DefaultWindow)
	assert.Len(t, edge, 1, "a sample exactly at the cutoff is inside the window")
}

func TestBuildWindowAndDeltas(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	f.append(t, "Recoil Case", daysAgo(10), "480.00")
	f.append(t, "Recoil Case", daysAgo(6), "500.00")
	f.append(t, "Recoil Case", daysAgo(3), "503.10")
	f.append(t, "Recoil Case", daysAgo(0), "506.04")
	require.NoError(t, f.store.SetBaseline(ctx, "Recoil Case", price("506.26")))

	report, err := f.builder.Build(ctx, "Recoil Case")
	require.NoError(t, err)

	assert.Len(t, report.Window, 3)
	assert.True(t, report.WeekAgo.Equal(price("500.00")))
	assert.True(t, report.Today.Equal(price("506.04")))
	assert.True(t, report.BaselineStored)
	assert.Equal(t, "-0.22₽", report.Day.AbsString("₽"))
	assert.Equal(t, "-0.04%", report.Day.PctString())
	assert.Equal(t, "+6.04₽", report.Week.AbsString("₽"))
	assert.Equal(t, "+1.21%", report.Week.PctString())

	assert.Equal(t,
		"Recoil Case: -0.22₽ -0.04% (506.26 -> 506.04)\nFrom 2024-03-05 21:00:00 to 2024-03-11 21:00:00",
		report.Caption)

	assert.Equal(t, "Recoil Case price over last week", report.Chart.Title)
	require.Len(t, report.Chart.Points, 3)
	assert.Equal(t, []chart.Annotation{
		{Anchor: chart.AnchorSummary, Label: "Week Price Change: +6.04₽ +1.21%"},
		{Anchor: chart.AnchorStart, Label: "500.00"},
		{Anchor: chart.AnchorEnd, Label: "506.04"},
	}, report.Chart.Annotations)
}

func TestBuildRollsBaselineAfterComparing(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	f.append(t, "Recoil Case", daysAgo(1), "506.26")
	f.append(t, "Recoil Case", daysAgo(0), "506.04")
	require.NoError(t, f.store.SetBaseline(ctx, "Recoil Case", price("506.26")))

	report, err := f.builder.Build(ctx, "Recoil Case")
	require.NoError(t, err)
	assert.True(t, report.Previous.Equal(price("506.26")), "delta must use the old baseline")

	stored, ok, err := f.store.GetBaseline(ctx, "Recoil Case")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Equal(price("506.04")), "baseline must be rolled to today")

	again, err := f.builder.Build(ctx, "Recoil Case")
	require.NoError(t, err)
	assert.True(t, again.Day.Abs.IsZero(), "second report on the same data compares against the new baseline")
}

func TestBuildFirstReportHasZeroDayDelta(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	f.append(t, "Recoil Case", daysAgo(2), "499.00")
	f.append(t, "Recoil Case", daysAgo(0), "506.04")

	report, err := f.builder.Build(ctx, "Recoil Case")
	require.NoError(t, err)

	assert.False(t, report.BaselineStored)
	assert.True(t, report.Day.Abs.IsZero())
	assert.True(t, report.Day.Pct.IsZero())
	assert.Equal(t, "+0.00₽", report.Day.AbsString("₽"))
	assert.Equal(t, "+0.00%", report.Day.PctString())

	stored, ok, err := f.store.GetBaseline(ctx, "Recoil Case")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Equal(price("506.04")))
}

func TestBuildFailures(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	_, err := f.builder.Build(ctx, "never sampled")
	assert.ErrorIs(t, err, ErrEmptySeries)

	f.append(t, "stale", daysAgo(30), "10.00")
	_, err = f.builder.Build(ctx, "stale")
	assert.ErrorIs(t, err, ErrEmptyWindow)

	f.append(t, "sentinels", daysAgo(1), "-1")
	_, err = f.builder.Build(ctx, "sentinels")
	assert.ErrorIs(t, err, ErrEmptyWindow)

	_, ok, err := f.store.GetBaseline(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok, "failed reports must not touch the baseline")
}

func TestRunCycleIsolatesItemFailures(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()
	f.append(t, "good", daysAgo(0), "1.00")
	f.append(t, "undeliverable", daysAgo(0), "2.00")
	f.notifier.failing["undeliverable"] = true

	result, err := f.builder.RunCycle(ctx, []string{"empty", "undeliverable", "good"})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptySeries)
	assert.ErrorIs(t, err, alerting.ErrDelivery)
	assert.Equal(t, 1, result.Delivered)
	assert.Equal(t, []string{"empty", "undeliverable"}, result.Failed)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "good", f.notifier.sent[0].Item)
	assert.Equal(t, []byte("png:good price over last week"), f.notifier.sent[0].Image)

	// delivery failed after the baseline rolled over
	_, ok, err := f.store.GetBaseline(ctx, "undeliverable")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeliverFallsBackToText(t *testing.T) {
	f := newReportFixture(t)
	f.plotter.err = errors.New("font missing")
	f.append(t, "Recoil Case", daysAgo(0), "506.04")

	result, err := f.builder.RunCycle(context.Background(), []string{"Recoil Case"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)

	require.Len(t, f.notifier.sent, 1)
	assert.Nil(t, f.notifier.sent[0].Image)
	assert.Contains(t, f.notifier.sent[0].Text, "Recoil Case: +0.00₽ +0.00%")
}

func TestBuildWithoutCollaborators(t *testing.T) {
	store := storage.NewMemoryStore()
	builder := NewReportBuilder(store, baseline.NewTracker(store), nil, nil, ReportOptions{
		Now: func() time.Time { return reportNow },
	}, zerolog.Nop())
	require.NoError(t, store.Append(context.Background(), "x", storage.Sample{Timestamp: reportNow, Price: price("1")}))

	result, err := builder.RunCycle(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
}
