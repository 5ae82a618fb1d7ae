package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"steam-price-reporter/internal/alerting"
	"steam-price-reporter/internal/storage"
)

// Sample runs one sampling pass immediately.
func (a *App) Sample(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := a.newService(store, serviceDeps{})
	if err != nil {
		return err
	}

	result, err := svc.Sample(ctx)
	fmt.Fprintf(os.Stdout, "recorded %d sample(s)", result.Recorded)
	if len(result.Failed) > 0 {
		fmt.Fprintf(os.Stdout, ", failed: %s", strings.Join(result.Failed, ", "))
	}
	fmt.Fprintln(os.Stdout)
	return err
}

// Report builds and delivers reports immediately. A dry run writes the chart
// and prints the caption instead of sending it, and leaves baselines untouched.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	if !opts.DryRun {
		if err := a.Config.ValidateDelivery(); err != nil {
			return err
		}
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	renderer, err := a.newRenderer()
	if err != nil {
		return err
	}

	deps := serviceDeps{plotter: renderer}
	if opts.DryRun {
		deps.notifier = &printNotifier{out: os.Stdout}
		deps.baselines = readOnlyBaselines{BaselineStore: store}
	} else {
		deps.notifier = a.newNotifier()
	}

	svc, err := a.newService(store, deps)
	if err != nil {
		return err
	}

	result, err := svc.Report(ctx, opts.Items...)
	a.Logger.Info().Int("delivered", result.Delivered).Strs("failed", result.Failed).Bool("dry_run", opts.DryRun).Msg("manual report finished")
	return err
}

// readOnlyBaselines discards baseline writes.
type readOnlyBaselines struct {
	storage.BaselineStore
}

func (readOnlyBaselines) SetBaseline(ctx context.Context, item string, price decimal.Decimal) error {
	return nil
}

// printNotifier writes reports to out instead of delivering them.
type printNotifier struct {
	out io.Writer
}

func (p *printNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	_, err := fmt.Fprintf(p.out, "--- %s (chart: %d bytes)\n%s\n", note.Item, len(note.Image), note.Text)
	return err
}

var _ alerting.Notifier = (*printNotifier)(nil)
