package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var seriesHeader = []string{"timestamp", "price"}

// FileStore keeps one CSV series and one baseline text file per item in a
// directory, matching the layout the reporter has always used.
type FileStore struct {
	dir string
	loc *time.Location

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore prepares dir and returns a store rooted there.
func NewFileStore(dir string, loc *time.Location) (*FileStore, error) {
	if dir == "" {
		return nil, ErrNotConfigured
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{dir: dir, loc: locationOrLocal(loc), locks: make(map[string]*sync.Mutex)}, nil
}

// SeriesPath returns the CSV path used for item.
func (s *FileStore) SeriesPath(item string) string {
	return filepath.Join(s.dir, fileStem(item)+".csv")
}

// BaselinePath returns the baseline file path used for item.
func (s *FileStore) BaselinePath(item string) string {
	return filepath.Join(s.dir, "prev_day_"+fileStem(item)+".txt")
}

func (s *FileStore) itemLock(item string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[item]
	if !ok {
		l = &sync.Mutex{}
		s.locks[item] = l
	}
	return l
}

// Append writes one row, creating the file with its header on first use.
func (s *FileStore) Append(ctx context.Context, item string, sample Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := s.itemLock(item)
	l.Lock()
	defer l.Unlock()

	path := s.SeriesPath(item)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open series %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat series %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(seriesHeader); err != nil {
			return fmt.Errorf("write series header: %w", err)
		}
	}
	record := []string{formatTimestamp(sample.Timestamp, s.loc), sample.Price.String()}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush sample: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync series %s: %w", path, err)
	}
	return nil
}

// ReadAll parses the whole series for item in file order.
func (s *FileStore) ReadAll(ctx context.Context, item string) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := s.itemLock(item)
	l.Lock()
	defer l.Unlock()

	file, err := os.Open(s.SeriesPath(item))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open series: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(seriesHeader)

	samples := make([]Sample, 0)
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, &CorruptionError{Item: item, Line: parseErr.Line, Err: parseErr.Err}
			}
			return nil, fmt.Errorf("read series: %w", err)
		}
		if line == 1 {
			if !slices.Equal(record, seriesHeader) {
				return nil, &CorruptionError{Item: item, Line: 1, Value: strings.Join(record, ","), Err: errors.New("missing header")}
			}
			continue
		}
		sample, err := parseSample(item, line, record[0], record[1], s.loc)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

// GetBaseline reads the stored reference price, ok=false when absent.
func (s *FileStore) GetBaseline(ctx context.Context, item string) (decimal.Decimal, bool, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Decimal{}, false, err
	}
	raw, err := os.ReadFile(s.BaselinePath(item))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return decimal.Decimal{}, false, nil
		}
		return decimal.Decimal{}, false, fmt.Errorf("read baseline: %w", err)
	}
	value := strings.TrimSpace(string(raw))
	price, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, false, &CorruptionError{Item: item, Value: value, Err: err}
	}
	return price, true, nil
}

// SetBaseline replaces the reference price atomically.
func (s *FileStore) SetBaseline(ctx context.Context, item string, price decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.BaselinePath(item)
	tmp, err := os.CreateTemp(s.dir, ".baseline-*")
	if err != nil {
		return fmt.Errorf("create baseline temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(price.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close baseline: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace baseline: %w", err)
	}
	return nil
}

// Close is a no-op; files are opened per call.
func (s *FileStore) Close() error {
	return nil
}

func fileStem(item string) string {
	stem := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, item)
	return strings.TrimLeft(stem, ".")
}

var _ Store = (*FileStore)(nil)
