package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the canonical on-disk timestamp format (second precision).
const TimestampLayout = "2006-01-02 15:04:05"

var (
	// ErrNotFound indicates the item has no persisted series yet.
	ErrNotFound = errors.New("storage: series not found")
	// ErrCorrupt indicates a persisted record could not be parsed.
	ErrCorrupt = errors.New("storage: corrupt record")
	// ErrNotConfigured indicates the storage handle was not initialised.
	ErrNotConfigured = errors.New("storage: not configured")
)

// Sample is one price observation for a tracked item.
type Sample struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// Valid reports whether the sample carries an in-domain price. Rows written
// with the legacy -1 sentinel for failed lookups are not valid.
func (s Sample) Valid() bool {
	return s.Price.IsPositive()
}

// CorruptionError describes an unparsable persisted record.
type CorruptionError struct {
	Item  string
	Line  int
	Value string
	Err   error
}

func (e *CorruptionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "storage: corrupt record for %q", e.Item)
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	if e.Value != "" {
		fmt.Fprintf(&b, " (%q)", e.Value)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *CorruptionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCorrupt}
	}
	return []error{ErrCorrupt, e.Err}
}

func formatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(TimestampLayout)
}

func parseSample(item string, line int, rawTS, rawPrice string, loc *time.Location) (Sample, error) {
	ts, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(rawTS), loc)
	if err != nil {
		return Sample{}, &CorruptionError{Item: item, Line: line, Value: rawTS, Err: err}
	}
	price, err := decimal.NewFromString(strings.TrimSpace(rawPrice))
	if err != nil {
		return Sample{}, &CorruptionError{Item: item, Line: line, Value: rawPrice, Err: err}
	}
	return Sample{Timestamp: ts, Price: price}, nil
}

func locationOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
