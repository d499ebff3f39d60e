package storage

import (
	"time"

	"odds-oracle/internal/results"
)

// PredictionRow mirrors one appended prediction in PostgreSQL.
type PredictionRow struct {
	ID          string
	Day         string
	Model       string
	IsForecast  bool
	GameID      string
	Game        string
	GameTime    time.Time
	Response    string
	OddsInfo    string
	Reasoning   *string
	Probability *int
	Likelihood  *string
	RecordedAt  time.Time
	CreatedAt   time.Time
}

// RowFromRecord converts a persisted result into its database shape.
func RowFromRecord(day string, rec results.Record) PredictionRow {
	row := PredictionRow{
		ID:         rec.ID,
		Day:        day,
		Model:      rec.Model,
		IsForecast: rec.IsForecast,
		GameID:     rec.GameID,
		Game:       rec.Game,
		GameTime:   rec.GameDatetime,
		Response:   rec.Response,
		OddsInfo:   rec.OddsInfo,
		RecordedAt: rec.Timestamp,
	}
	if rec.IsForecast {
		reasoning := rec.Reasoning
		likelihood := rec.Likelihood
		row.Reasoning = &reasoning
		row.Likelihood = &likelihood
		row.Probability = rec.Probability
	}
	return row
}
