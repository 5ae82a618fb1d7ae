package fetcher

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrLookupFailed wraps every upstream price lookup failure.
var ErrLookupFailed = errors.New("price lookup failed")

// PriceFetcher retrieves the current marketplace price of one item.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, item, currency string) (decimal.Decimal, error)
}

// Func adapts a plain function to PriceFetcher.
type Func func(ctx context.Context, item, currency string) (decimal.Decimal, error)

// FetchPrice calls f.
func (f Func) FetchPrice(ctx context.Context, item, currency string) (decimal.Decimal, error) {
	return f(ctx, item, currency)
}
