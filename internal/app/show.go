package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"steam-price-reporter/internal/storage"
)

// Show prints the most recent samples of one item, or of every tracked item.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	items := a.Config.Items
	if opts.Item != "" {
		items = []string{opts.Item}
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Item\tTime\tPrice\tNote")
	for _, item := range items {
		samples, err := store.ReadAll(ctx, item)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(writer, "%s\t-\t-\tno samples\n", item)
			continue
		}
		if err != nil {
			writer.Flush()
			return err
		}
		writeSampleRows(writer, item, tail(samples, opts.Limit))
	}

	return writer.Flush()
}

func writeSampleRows(w io.Writer, item string, samples []storage.Sample) {
	for _, sample := range samples {
		note := ""
		if !sample.Valid() {
			note = "invalid (excluded from reports)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			item,
			sample.Timestamp.Format(storage.TimestampLayout),
			sample.Price.StringFixed(2),
			note,
		)
	}
}

func tail(samples []storage.Sample, limit int) []storage.Sample {
	if limit <= 0 || len(samples) <= limit {
		return samples
	}
	return samples[len(samples)-limit:]
}
