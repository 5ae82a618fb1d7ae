// Package baseline tracks the per-item reference price used for
// day-over-day deltas. A baseline is read, compared against, and only then
// replaced, once per report cycle.
package baseline

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"steam-price-reporter/internal/storage"
)

// Tracker wraps a BaselineStore with per-item serialisation.
type Tracker struct {
	store storage.BaselineStore

	mu    sync.Mutex
	items map[string]*sync.Mutex
}

// NewTracker constructs a Tracker over store.
func NewTracker(store storage.BaselineStore) *Tracker {
	return &Tracker{store: store, items: make(map[string]*sync.Mutex)}
}

// Lock serialises a read-compute-write sequence for item. The returned func
// releases it.
func (t *Tracker) Lock(item string) func() {
	t.mu.Lock()
	l, ok := t.items[item]
	if !ok {
		l = &sync.Mutex{}
		t.items[item] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Get returns the persisted reference price, ok=false if none was written yet.
func (t *Tracker) Get(ctx context.Context, item string) (decimal.Decimal, bool, error) {
	price, ok, err := t.store.GetBaseline(ctx, item)
	if err != nil {
		return decimal.Decimal{}, false, fmt.Errorf("get baseline for %q: %w", item, err)
	}
	return price, ok, nil
}

// Set overwrites the persisted reference price.
func (t *Tracker) Set(ctx context.Context, item string, price decimal.Decimal) error {
	if err := t.store.SetBaseline(ctx, item, price); err != nil {
		return fmt.Errorf("set baseline for %q: %w", item, err)
	}
	return nil
}

// Effective returns the baseline to compare today's price against: the
// stored value, or today itself when nothing is stored (a zero delta).
func (t *Tracker) Effective(ctx context.Context, item string, today decimal.Decimal) (decimal.Decimal, bool, error) {
	price, ok, err := t.Get(ctx, item)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	if !ok {
		return today, false, nil
	}
	return price, true, nil
}
