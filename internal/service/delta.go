package service

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Delta is the change between a reference price and a newer one.
type Delta struct {
	Abs decimal.Decimal
	Pct decimal.Decimal
}

// ComputeDelta returns newer-older and (newer/older - 1) * 100. A zero or
// negative reference yields a zero percentage.
func ComputeDelta(newer, older decimal.Decimal) Delta {
	d := Delta{Abs: newer.Sub(older)}
	if older.IsPositive() {
		d.Pct = newer.Div(older).Sub(decimal.NewFromInt(1)).Mul(hundred)
	}
	return d
}

// AbsString renders the absolute change with a forced sign and unit suffix.
func (d Delta) AbsString(symbol string) string {
	return FormatSigned(d.Abs) + symbol
}

// PctString renders the percentage change with a forced sign.
func (d Delta) PctString() string {
	return FormatPercent(d.Pct)
}

// FormatSigned renders v to two decimals with an explicit leading sign.
// Negative values keep a single minus.
func FormatSigned(v decimal.Decimal) string {
	return strings.Replace("+"+v.StringFixed(2), "+-", "-", 1)
}

// FormatPercent is FormatSigned with a percent suffix.
func FormatPercent(v decimal.Decimal) string {
	return FormatSigned(v) + "%"
}

// currencySymbols map Steam currency codes to caption suffixes.
var currencySymbols = map[string]string{
	"RUB": "₽",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"UAH": "₴",
	"KZT": "₸",
	"CNY": "¥",
	"JPY": "¥",
	"PLN": "zł",
	"BRL": "R$",
	"TRY": "₺",
}

// CurrencySymbol resolves the caption suffix: an explicit override wins,
// then the symbol for the currency code, then the code itself.
func CurrencySymbol(override, currency string) string {
	if override != "" {
		return override
	}
	code := strings.ToUpper(strings.TrimSpace(currency))
	if sym, ok := currencySymbols[code]; ok {
		return sym
	}
	return code
}
