package app

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"odds-oracle/internal/results"
)

// storedRecord is a result log entry tagged with the day directory it came from.
type storedRecord struct {
	Day string
	results.Record
}

// resolveDays validates a --from/--to pair. When both are empty the most
// recent day with results is used.
func resolveDays(store *results.Store, from, to string) (string, string, error) {
	if from == "" && to == "" {
		days, err := store.Days()
		if err != nil {
			return "", "", err
		}
		if len(days) == 0 {
			return "", "", nil
		}
		last := days[len(days)-1]
		return last, last, nil
	}
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}
	if _, err := time.Parse(time.DateOnly, from); err != nil {
		return "", "", fmt.Errorf("invalid day %q: %w", from, err)
	}
	if _, err := time.Parse(time.DateOnly, to); err != nil {
		return "", "", fmt.Errorf("invalid day %q: %w", to, err)
	}
	if to < from {
		return "", "", errors.New("from must not be after to")
	}
	return from, to, nil
}

// collectRecords loads every record written between from and to (inclusive),
// ordered by the time it was recorded.
func collectRecords(store *results.Store, from, to string) ([]storedRecord, error) {
	days, err := store.Days()
	if err != nil {
		return nil, err
	}

	var out []storedRecord
	for _, day := range days {
		if day < from || day > to {
			continue
		}
		targets, err := store.Targets(day)
		if err != nil {
			return nil, err
		}
		for _, target := range targets {
			records, err := store.Read(day, target.Model, target.Forecast)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", target.Path, err)
			}
			for _, rec := range records {
				out = append(out, storedRecord{Day: day, Record: rec})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func kindLabel(forecast bool) string {
	if forecast {
		return "forecast"
	}
	return "analysis"
}
