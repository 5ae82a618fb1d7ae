package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"steam-price-reporter/internal/fetcher"
	"steam-price-reporter/internal/storage"
)

// CycleResult summarises one sampling pass.
type CycleResult struct {
	Recorded int
	Failed   []string
}

// Sampler looks up the current price of each item and appends it to the series.
type Sampler struct {
	fetcher  fetcher.PriceFetcher
	store    storage.SeriesStore
	currency string
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// SamplerOptions parameterise a Sampler.
type SamplerOptions struct {
	Currency      string
	LookupTimeout time.Duration
	Now           func() time.Time
}

// NewSampler constructs a Sampler.
func NewSampler(f fetcher.PriceFetcher, store storage.SeriesStore, opts SamplerOptions, logger zerolog.Logger) *Sampler {
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sampler{
		fetcher:  f,
		store:    store,
		currency: opts.Currency,
		timeout:  opts.LookupTimeout,
		now:      opts.Now,
		logger:   logger.With().Str("component", "sampler").Logger(),
	}
}

// RunCycle samples every item in order. Failed lookups are logged and
// skipped; nothing is written for them. Storage failures do not stop the
// pass and are returned joined once every item has been tried.
func (s *Sampler) RunCycle(ctx context.Context, items []string) (CycleResult, error) {
	var (
		result CycleResult
		errs   []error
	)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		recorded, err := s.sampleItem(ctx, item)
		switch {
		case err != nil:
			result.Failed = append(result.Failed, item)
			errs = append(errs, err)
		case !recorded:
			result.Failed = append(result.Failed, item)
		default:
			result.Recorded++
		}
	}

	s.logger.Info().
		Int("recorded", result.Recorded).
		Int("failed", len(result.Failed)).
		Msg("sampling cycle finished")

	return result, errors.Join(errs...)
}

func (s *Sampler) sampleItem(ctx context.Context, item string) (bool, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	price, err := s.fetcher.FetchPrice(lookupCtx, item, s.currency)
	cancel()
	if err != nil {
		s.logger.Warn().Err(err).Str("item", item).Msg("price lookup failed; sample skipped")
		return false, nil
	}
	if !price.IsPositive() {
		s.logger.Warn().Str("item", item).Str("price", price.String()).Msg("non-positive price; sample skipped")
		return false, nil
	}

	sample := storage.Sample{
		Timestamp: s.now().Truncate(time.Second),
		Price:     price,
	}
	if err := s.store.Append(ctx, item, sample); err != nil {
		s.logger.Error().Err(err).Str("item", item).Msg("failed to append sample")
		return false, fmt.Errorf("append %q: %w", item, err)
	}

	s.logger.Info().
		Str("item", item).
		Str("price", price.String()).
		Time("ts", sample.Timestamp).
		Msg("sample recorded")
	return true, nil
}
