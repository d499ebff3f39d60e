package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const schedulePath = "/api/v1/schedule/games/"

// ScheduleOptions parameterise the MLB Stats API fetcher.
type ScheduleOptions struct {
	BaseURL   string
	SportID   int
	Timeout   time.Duration
	UserAgent string
	Location  *time.Location
}

// Schedule fetches the daily schedule from the MLB Stats API.
type Schedule struct {
	opts    ScheduleOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewSchedule constructs a schedule fetcher.
func NewSchedule(opts ScheduleOptions, logger zerolog.Logger) *Schedule {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	if opts.SportID == 0 {
		opts.SportID = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://statsapi.mlb.com"
	}

	return &Schedule{
		opts:    opts,
		logger:  logger.With().Str("component", "schedule_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchSchedule returns every game scheduled on date (YYYY-MM-DD). A day
// without games yields an empty slice.
func (s *Schedule) FetchSchedule(ctx context.Context, date string) ([]ScheduledGame, error) {
	params := url.Values{}
	params.Set("sportId", strconv.Itoa(s.opts.SportID))
	params.Set("startDate", date)
	params.Set("endDate", date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+schedulePath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgentOr(s.opts.UserAgent))

	body, err := do(s.client, s.logger, "schedule", req)
	if err != nil {
		return nil, err
	}

	var payload scheduleResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse schedule response: %w", err)
	}

	games := make([]ScheduledGame, 0)
	for _, day := range payload.Dates {
		for _, raw := range day.Games {
			var g scheduleGame
			if err := json.Unmarshal(raw, &g); err != nil {
				s.logger.Warn().Err(err).Msg("skipping undecodable schedule entry")
				continue
			}
			kickoff, err := parseKickoff(g.GameDate)
			if err != nil {
				s.logger.Warn().Err(err).Int64("game_pk", g.GamePk).Msg("skipping game with invalid start time")
				continue
			}
			games = append(games, ScheduledGame{
				ID:        strconv.FormatInt(g.GamePk, 10),
				HomeTeam:  g.Teams.Home.Team.Name,
				AwayTeam:  g.Teams.Away.Team.Name,
				StartTime: kickoff.In(s.opts.Location),
				Payload:   append(json.RawMessage(nil), raw...),
			})
		}
	}

	s.logger.Info().Str("date", date).Int("games", len(games)).Msg("schedule fetched")
	return games, nil
}

// parseKickoff accepts RFC3339 as well as the minute-precision form some
// endpoints return.
func parseKickoff(v string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04Z07:00",
	}
	var parseErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC(), nil
		}
		parseErr = err
	}
	return time.Time{}, parseErr
}

type scheduleResponse struct {
	Dates []struct {
		Date  string            `json:"date"`
		Games []json.RawMessage `json:"games"`
	} `json:"dates"`
}

type scheduleGame struct {
	GamePk   int64  `json:"gamePk"`
	GameDate string `json:"gameDate"`
	Teams    struct {
		Away scheduleSide `json:"away"`
		Home scheduleSide `json:"home"`
	} `json:"teams"`
}

type scheduleSide struct {
	Team struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"team"`
}

var _ ScheduleFetcher = (*Schedule)(nil)
