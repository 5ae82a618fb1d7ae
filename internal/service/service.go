package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"steam-price-reporter/internal/config"
	"steam-price-reporter/internal/logging"
	"steam-price-reporter/internal/scheduler"
	"steam-price-reporter/internal/storage"
)

// Job names registered with the scheduler.
const (
	JobSample = "sample"
	JobReport = "report"
)

// Service orchestrates hourly sampling and the daily report.
type Service struct {
	scheduler *scheduler.Scheduler
	sampler   *Sampler
	reports   *ReportBuilder
	items     []string
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// New constructs the service. When a scheduler is given, the sample and
// report jobs are registered on it.
func New(cfg *config.Config, sched *scheduler.Scheduler, sampler *Sampler, reports *ReportBuilder, store storage.Store, logger zerolog.Logger) (*Service, error) {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	s := &Service{
		scheduler: sched,
		sampler:   sampler,
		reports:   reports,
		items:     cfg.Items,
		logger:    logging.Component(logger, "service"),
		locker:    locker,
		lockKey:   cfg.Storage.AdvisoryLockKey,
	}

	if sched != nil {
		if err := s.register(cfg.Scheduler); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) register(cfg config.SchedulerConfig) error {
	loc, err := config.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("scheduler timezone: %w", err)
	}
	daily, err := scheduler.ParseDailyAt(cfg.ReportTime, loc)
	if err != nil {
		return fmt.Errorf("scheduler report_time: %w", err)
	}

	every := scheduler.Every{Interval: cfg.SampleInterval, Align: cfg.AlignToInterval}
	if err := s.scheduler.Add(JobSample, every, s.sampleTick); err != nil {
		return err
	}
	return s.scheduler.Add(JobReport, daily, s.reportTick)
}

// Run blocks on the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	s.logger.Info().Strs("items", s.items).Msg("service started")
	err := s.scheduler.Run(ctx)
	if errors.Is(err, context.Canceled) {
		s.logger.Info().Msg("service stopped")
		return nil
	}
	return err
}

// Sample runs one sampling pass over every tracked item.
func (s *Service) Sample(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	err := s.withCycle(ctx, JobSample, func(ctx context.Context) error {
		var err error
		result, err = s.sampler.RunCycle(ctx, s.items)
		return err
	})
	return result, err
}

// Report runs one reporting pass over items, or every tracked item when
// items is empty.
func (s *Service) Report(ctx context.Context, items ...string) (ReportResult, error) {
	if len(items) == 0 {
		items = s.items
	}
	var result ReportResult
	err := s.withCycle(ctx, JobReport, func(ctx context.Context) error {
		var err error
		result, err = s.reports.RunCycle(ctx, items)
		return err
	})
	return result, err
}

func (s *Service) sampleTick(ctx context.Context, due time.Time) error {
	_, err := s.Sample(ctx)
	return err
}

func (s *Service) reportTick(ctx context.Context, due time.Time) error {
	_, err := s.Report(ctx)
	return err
}

func (s *Service) withCycle(ctx context.Context, kind string, fn func(context.Context) error) error {
	logger, _ := logging.Cycle(s.logger, kind)

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	logger.Info().Msg("cycle started")
	err = fn(ctx)
	event := logger.Info()
	if err != nil {
		event = logger.Warn().Err(err)
	}
	event.Dur("elapsed", time.Since(started)).Msg("cycle finished")
	return err
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
