package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"steam-price-reporter/internal/alerting"
	"steam-price-reporter/internal/baseline"
	"steam-price-reporter/internal/chart"
	"steam-price-reporter/internal/config"
	"steam-price-reporter/internal/fetcher"
	"steam-price-reporter/internal/scheduler"
	"steam-price-reporter/internal/service"
	"steam-price-reporter/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.PriceFetcher {
	return fetcher.NewSteam(fetcher.SteamOptions{
		BaseURL:   a.Config.Steam.BaseURL,
		AppID:     a.Config.Steam.AppID,
		Timeout:   a.Config.Steam.RequestTimeout,
		UserAgent: a.Config.Steam.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Telegram
	return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
}

func (a *App) newRenderer() (*chart.Renderer, error) {
	loc, err := config.LoadLocation(a.Config.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	return chart.NewRenderer(chart.Options{
		Path:     a.Config.Report.ChartPath,
		Width:    a.Config.Report.ChartWidth,
		Height:   a.Config.Report.ChartHeight,
		Location: loc,
	}, a.Logger), nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	store, err := storage.Open(ctx, a.Config.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage (%s): %w", storage.Describe(a.Config.Storage), err)
	}
	a.Logger.Debug().Str("storage", storage.Describe(a.Config.Storage)).Msg("storage opened")
	return store, nil
}

// serviceDeps are the optional collaborators of one command.
type serviceDeps struct {
	scheduler *scheduler.Scheduler
	notifier  alerting.Notifier
	plotter   chart.Plotter
	baselines storage.BaselineStore
}

func (a *App) newService(store storage.Store, deps serviceDeps) (*service.Service, error) {
	loc, err := config.LoadLocation(a.Config.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}

	baselines := deps.baselines
	if baselines == nil {
		baselines = store
	}

	sampler := service.NewSampler(a.newFetcher(), store, service.SamplerOptions{
		Currency:      a.Config.Steam.Currency,
		LookupTimeout: a.Config.Steam.RequestTimeout,
	}, a.Logger)

	reports := service.NewReportBuilder(store, baseline.NewTracker(baselines), deps.plotter, deps.notifier, service.ReportOptions{
		Window:         a.Config.Report.Window,
		CurrencySymbol: service.CurrencySymbol(a.Config.Report.CurrencySymbol, a.Config.Steam.Currency),
		Location:       loc,
	}, a.Logger)

	return service.New(a.Config, deps.scheduler, sampler, reports, store, a.Logger)
}

// Run executes the long-running sampling and reporting service.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.ValidateDelivery(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	renderer, err := a.newRenderer()
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc, err := a.newService(store, serviceDeps{
		scheduler: sched,
		notifier:  a.newNotifier(),
		plotter:   renderer,
	})
	if err != nil {
		return err
	}

	a.Logger.Info().
		Dur("sample_interval", a.Config.Scheduler.SampleInterval).
		Str("report_time", a.Config.Scheduler.ReportTime).
		Str("storage", storage.Describe(a.Config.Storage)).
		Msg("starting price reporter")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price reporter stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Item  string
	Limit int
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	Item      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ReportOptions configure a manual report run.
type ReportOptions struct {
	Items  []string
	DryRun bool
}
