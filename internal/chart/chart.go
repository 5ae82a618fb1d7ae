package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrNoData is returned when a request carries no points.
var ErrNoData = errors.New("chart: no data points")

// Anchor says where an annotation is attached.
type Anchor int

const (
	// AnchorStart attaches to the first point of the window.
	AnchorStart Anchor = iota
	// AnchorEnd attaches to the last point of the window.
	AnchorEnd
	// AnchorSummary floats above the plot.
	AnchorSummary
)

// Point is one (timestamp, price) pair.
type Point struct {
	Time  time.Time
	Price decimal.Decimal
}

// Annotation is a text label placed at an anchor.
type Annotation struct {
	Anchor Anchor
	Label  string
}

// Request describes one chart.
type Request struct {
	Title       string
	Points      []Point
	Annotations []Annotation
}

// Plotter renders a chart request to PNG bytes.
type Plotter interface {
	Render(ctx context.Context, req Request) ([]byte, error)
}

// Options tune the renderer.
type Options struct {
	// Path is the shared output slot, overwritten on every render. Empty
	// keeps the image in memory only.
	Path     string
	Width    int
	Height   int
	Location *time.Location
}

// Renderer draws price charts with go-chart. Renders are serialised because
// they share the single output path.
type Renderer struct {
	opts   Options
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewRenderer constructs a Renderer.
func NewRenderer(opts Options, logger zerolog.Logger) *Renderer {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 720
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Renderer{opts: opts, logger: logger.With().Str("component", "chart").Logger()}
}

// Render draws req, writes it to the configured path, and returns the PNG.
func (r *Renderer) Render(ctx context.Context, req Request) ([]byte, error) {
	if len(req.Points) == 0 {
		return nil, ErrNoData
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	graph := r.build(req)
	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}

	if r.opts.Path != "" {
		if err := EnsureDir(r.opts.Path); err != nil {
			return nil, err
		}
		if err := os.WriteFile(r.opts.Path, buf.Bytes(), 0o644); err != nil {
			return nil, fmt.Errorf("write chart: %w", err)
		}
		r.logger.Debug().Str("path", r.opts.Path).Int("points", len(req.Points)).Msg("chart written")
	}
	return buf.Bytes(), nil
}

func (r *Renderer) build(req Request) gochart.Chart {
	x := make([]time.Time, len(req.Points))
	y := make([]float64, len(req.Points))
	minY, maxY := req.Points[0].Price.InexactFloat64(), req.Points[0].Price.InexactFloat64()
	for i, p := range req.Points {
		x[i] = p.Time
		y[i] = p.Price.InexactFloat64()
		minY = min(minY, y[i])
		maxY = max(maxY, y[i])
	}

	first, last := 0, len(req.Points)-1
	minX := gochart.TimeToFloat64(x[first])
	maxX := gochart.TimeToFloat64(x[last])
	if maxX <= minX {
		minX -= float64(time.Hour)
		maxX += float64(time.Hour)
	}

	annotations := make([]gochart.Value2, 0, len(req.Annotations))
	for _, a := range req.Annotations {
		switch a.Anchor {
		case AnchorStart:
			annotations = append(annotations, gochart.Value2{XValue: gochart.TimeToFloat64(x[first]), YValue: y[first], Label: a.Label})
		case AnchorEnd:
			annotations = append(annotations, gochart.Value2{XValue: gochart.TimeToFloat64(x[last]), YValue: y[last], Label: a.Label})
		case AnchorSummary:
			annotations = append(annotations, gochart.Value2{XValue: minX + (maxX-minX)*0.6, YValue: maxY + 0.75, Label: a.Label})
		}
	}

	dateFormatter := func(v interface{}) string {
		switch t := v.(type) {
		case float64:
			return time.Unix(0, int64(t)).In(r.opts.Location).Format("2006-01-02")
		case time.Time:
			return t.In(r.opts.Location).Format("2006-01-02")
		}
		return ""
	}
	priceFormatter := func(v interface{}) string {
		return gochart.FloatValueFormatterWithFormat(v, "%.2f")
	}

	series := []gochart.Series{
		gochart.TimeSeries{
			Name:    "Price",
			XValues: x,
			YValues: y,
		},
	}
	if len(annotations) > 0 {
		series = append(series, gochart.AnnotationSeries{
			Annotations: annotations,
			Style: gochart.Style{
				FillColor:   drawing.ColorFromHex("FFFF00").WithAlpha(76),
				StrokeColor: drawing.ColorFromHex("999999"),
				FontSize:    8,
			},
		})
	}

	return gochart.Chart{
		Title:  req.Title,
		Width:  r.opts.Width,
		Height: r.opts.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 60, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: gochart.XAxis{
			Name:           "Date",
			ValueFormatter: dateFormatter,
			Range:          &gochart.ContinuousRange{Min: minX, Max: maxX},
		},
		YAxis: gochart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
			Range:          &gochart.ContinuousRange{Min: minY - 1, Max: maxY + 1},
		},
		Series: series,
	}
}

// EnsureDir creates the parent directory of path.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

var _ Plotter = (*Renderer)(nil)
