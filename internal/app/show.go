package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

const responsePreview = 80

// Show prints the predictions recorded for a day, or the most recent rows of
// the database mirror.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	return a.show(ctx, os.Stdout, opts)
}

func (a *App) show(ctx context.Context, out io.Writer, opts ShowOptions) error {
	if opts.FromDB {
		return a.showFromDB(ctx, out, opts.Limit)
	}

	store := a.newResultStore()
	from, to, err := resolveDays(store, opts.Day, opts.Day)
	if err != nil {
		return err
	}
	if from == "" {
		fmt.Fprintln(out, "no predictions found")
		return nil
	}

	records, err := collectRecords(store, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(out, "no predictions found for %s\n", from)
		return nil
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[len(records)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Recorded\tModel\tKind\tGame\tStart\tProb\tResponse")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Timestamp.In(a.location).Format(time.DateTime),
			rec.Model,
			kindLabel(rec.IsForecast),
			rec.Game,
			rec.GameDatetime.In(a.location).Format("15:04 MST"),
			formatProbability(rec.Probability),
			preview(rec.Response),
		)
	}
	return writer.Flush()
}

func (a *App) showFromDB(ctx context.Context, out io.Writer, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show mirrored predictions")
	}
	defer closeStore()

	rows, err := store.ListRecentPredictions(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no predictions found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Recorded (UTC)\tDay\tModel\tKind\tGame\tProb\tResponse")
	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.RecordedAt.UTC().Format(time.RFC3339),
			row.Day,
			row.Model,
			kindLabel(row.IsForecast),
			row.Game,
			formatProbability(row.Probability),
			preview(row.Response),
		)
	}
	return writer.Flush()
}

// formatProbability renders a 0-100 forecast as a two-place fraction.
func formatProbability(p *int) string {
	if p == nil {
		return "-"
	}
	return decimal.NewFromInt(int64(*p)).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func preview(v string) string {
	cleaned := sanitizeInline(v)
	runes := []rune(cleaned)
	if len(runes) > responsePreview {
		return string(runes[:responsePreview]) + "..."
	}
	return cleaned
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
