package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odds-oracle/internal/results"
)

func TestRowFromRecord(t *testing.T) {
	at := time.Date(2024, 7, 1, 18, 0, 0, 0, time.UTC)
	p := 0
	forecast := RowFromRecord("2024-07-01", results.Record{
		ID:          "f1",
		Model:       "gpt-4o",
		IsForecast:  true,
		GameID:      "745123",
		Response:    "Red Sox win",
		Reasoning:   "pitching",
		Probability: &p,
		Likelihood:  "very unlikely",
		Timestamp:   at,
	})
	assert.Equal(t, "2024-07-01", forecast.Day)
	assert.Equal(t, at, forecast.RecordedAt)
	require.NotNil(t, forecast.Probability)
	assert.Equal(t, 0, *forecast.Probability)
	require.NotNil(t, forecast.Reasoning)
	assert.Equal(t, "pitching", *forecast.Reasoning)

	analysis := RowFromRecord("2024-07-01", results.Record{ID: "a1", Model: "gpt-4o", Response: "Yankees"})
	assert.Nil(t, analysis.Probability)
	assert.Nil(t, analysis.Reasoning)
	assert.Nil(t, analysis.Likelihood)
}
