package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	priceOverviewPath = "/priceoverview/"
	defaultAppID      = 730
)

// steamCurrencies maps ISO codes to Steam's numeric currency ids.
var steamCurrencies = map[string]int{
	"USD": 1,
	"GBP": 2,
	"EUR": 3,
	"CHF": 4,
	"RUB": 5,
	"PLN": 6,
	"BRL": 7,
	"JPY": 8,
	"NOK": 9,
	"CAD": 20,
	"AUD": 21,
	"CNY": 23,
	"UAH": 18,
	"TRY": 17,
	"KZT": 37,
}

// SteamOptions parameterise the Steam Community Market fetcher.
type SteamOptions struct {
	BaseURL   string
	AppID     int
	Timeout   time.Duration
	UserAgent string
}

// Steam fetches item prices from the Steam Community Market priceoverview endpoint.
type Steam struct {
	opts    SteamOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewSteam constructs a Steam fetcher.
func NewSteam(opts SteamOptions, logger zerolog.Logger) *Steam {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if opts.AppID <= 0 {
		opts.AppID = defaultAppID
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://steamcommunity.com/market"
	}

	return &Steam{
		opts:    opts,
		logger:  logger.With().Str("component", "steam_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrice returns the lowest listing price, falling back to the median.
func (s *Steam) FetchPrice(ctx context.Context, item, currency string) (decimal.Decimal, error) {
	if strings.TrimSpace(item) == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty item name", ErrLookupFailed)
	}
	currencyID, ok := steamCurrencies[strings.ToUpper(currency)]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: unsupported currency %q", ErrLookupFailed, currency)
	}

	query := url.Values{}
	query.Set("appid", strconv.Itoa(s.opts.AppID))
	query.Set("currency", strconv.Itoa(currencyID))
	query.Set("market_hash_name", item)
	endpoint := s.baseURL + priceOverviewPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pricereporter/1.0")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: read body: %w", ErrLookupFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var overview priceOverview
	if err := json.Unmarshal(payload, &overview); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode priceoverview: %w", ErrLookupFailed, err)
	}
	if !overview.Success {
		return decimal.Decimal{}, fmt.Errorf("%w: steam returned success=false for %q", ErrLookupFailed, item)
	}

	raw := overview.LowestPrice
	if raw == "" {
		raw = overview.MedianPrice
	}
	price, err := ParsePrice(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	s.logger.Debug().Str("item", item).Str("raw", raw).Str("price", price.String()).Msg("price fetched")
	return price, nil
}

// ParsePrice turns a localised Steam price string ("506,26 pуб.", "$1,234.56",
// "12,--€") into a decimal.
func ParsePrice(raw string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' {
			return r
		}
		return -1
	}, raw)
	cleaned = strings.Trim(cleaned, ".,")
	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("no price in %q", raw)
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(cleaned, ".") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	price, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("non-positive price %q", raw)
	}
	return price, nil
}

type priceOverview struct {
	Success     bool   `json:"success"`
	LowestPrice string `json:"lowest_price"`
	MedianPrice string `json:"median_price"`
	Volume      string `json:"volume"`
}

func parseHTTPError(status int, payload []byte) error {
	if status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: steam rate limited (%d)", ErrLookupFailed, status)
	}
	body := strings.TrimSpace(string(payload))
	if len(body) > 200 {
		body = body[:200]
	}
	if body != "" {
		return fmt.Errorf("%w: steam api error (%d): %s", ErrLookupFailed, status, body)
	}
	return fmt.Errorf("%w: steam api error (%d)", ErrLookupFailed, status)
}

var _ PriceFetcher = (*Steam)(nil)
