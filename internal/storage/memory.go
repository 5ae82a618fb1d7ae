package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore is a process-local Store used for dry runs and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	series    map[string][]Sample
	baselines map[string]decimal.Decimal
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series:    make(map[string][]Sample),
		baselines: make(map[string]decimal.Decimal),
	}
}

func (m *MemoryStore) Append(ctx context.Context, item string, sample Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[item] = append(m.series[item], sample)
	return nil
}

func (m *MemoryStore) ReadAll(ctx context.Context, item string) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	samples, ok := m.series[item]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(samples), nil
}

func (m *MemoryStore) GetBaseline(ctx context.Context, item string) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Decimal{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.baselines[item]
	return price, ok, nil
}

func (m *MemoryStore) SetBaseline(ctx context.Context, item string, price decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines[item] = price
	return nil
}

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
