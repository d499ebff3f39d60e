package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduleFetcher retrieves the games scheduled for a calendar day.
type ScheduleFetcher interface {
	FetchSchedule(ctx context.Context, date string) ([]ScheduledGame, error)
}

// OddsScraper retrieves moneyline odds for every game of a sport on a day.
type OddsScraper interface {
	ScrapeOdds(ctx context.Context, sport, date string) ([]OddsGame, error)
}

// Predictor requests a prediction for a single game/model pair. A nil
// prediction with a nil error means the upstream answered with nothing.
type Predictor interface {
	Predict(ctx context.Context, req PredictionRequest) (*Prediction, error)
}

// ScheduledGame is one game from the public schedule.
type ScheduledGame struct {
	ID        string          `json:"id"`
	HomeTeam  string          `json:"home_team"`
	AwayTeam  string          `json:"away_team"`
	StartTime time.Time       `json:"start_time"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Description renders "Away vs Home".
func (g ScheduledGame) Description() string {
	return fmt.Sprintf("%s vs %s", g.AwayTeam, g.HomeTeam)
}

// OddsGame is the moneyline board for one game as scraped from the odds source.
type OddsGame struct {
	Key           string         `json:"id"`
	Date          string         `json:"date"`
	HomeTeam      string         `json:"home_team"`
	AwayTeam      string         `json:"away_team"`
	HomeMoneyline map[string]int `json:"home_ml"`
	AwayMoneyline map[string]int `json:"away_ml"`
	// Books keeps the source order of sportsbooks.
	Books []string `json:"books"`
}

// MatchKey builds the composite identifier shared by both sources.
func MatchKey(date, awayTeam, homeTeam string) string {
	return fmt.Sprintf("%s_%s_%s", date, awayTeam, homeTeam)
}

// PredictOptions are the auxiliary prediction-service knobs.
type PredictOptions struct {
	WebSearch bool
	Articles  int
	Lookback  int
}

// PredictionRequest is a single fan-out call.
type PredictionRequest struct {
	GameID   string
	Model    string
	Forecast bool
	Query    string
	// AdditionalContext is sent alongside forecast queries.
	AdditionalContext string
	// GameData is the schedule payload of the game, passed through verbatim.
	GameData json.RawMessage
	Options  PredictOptions
}

// Prediction is either a plain completion or a structured forecast.
type Prediction struct {
	Text     string
	Forecast *Forecast
}

// Forecast is the structured answer of the forecast endpoint.
type Forecast struct {
	Forecast    string `json:"forecast"`
	Reasoning   string `json:"reasoning"`
	Probability int    `json:"probability"`
	Likelihood  string `json:"likelihood"`
}

// Response returns the primary text of the prediction.
func (p *Prediction) Response() string {
	if p == nil {
		return ""
	}
	if p.Forecast != nil {
		return p.Forecast.Forecast
	}
	return p.Text
}
