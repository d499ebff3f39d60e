package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"odds-oracle/internal/retry"
)

var (
	nextDataPattern = regexp.MustCompile(`__NEXT_DATA__" type="application/json">(.*?)</script>`)

	leaguePaths = map[string]string{
		"NBA":   "nba-basketball",
		"NFL":   "nfl-football",
		"NHL":   "nhl-hockey",
		"MLB":   "mlb-baseball",
		"NCAAB": "ncaa-basketball",
	}
)

// ErrUnsupportedSport is returned for sports without a known odds page.
var ErrUnsupportedSport = errors.New("unsupported sport")

// OddsOptions parameterise the odds-board scraper.
type OddsOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
	// OpeningLine selects opening instead of current moneylines.
	OpeningLine bool
}

// Odds scrapes moneyline boards from the odds website.
type Odds struct {
	opts    OddsOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewOdds constructs an odds scraper.
func NewOdds(opts OddsOptions, logger zerolog.Logger) *Odds {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://www.sportsbookreview.com"
	}

	return &Odds{
		opts:    opts,
		logger:  logger.With().Str("component", "odds_scraper").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// ScrapeOdds returns the moneyline board of every game of sport on date.
// Pages without the expected data yield an empty result rather than an error.
func (o *Odds) ScrapeOdds(ctx context.Context, sport, date string) ([]OddsGame, error) {
	league, ok := leaguePaths[strings.ToUpper(sport)]
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrUnsupportedSport, sport))
	}

	page, err := o.get(ctx, fmt.Sprintf("%s/betting-odds/%s/?date=%s", o.baseURL, league, url.QueryEscape(date)))
	if err != nil {
		return nil, err
	}

	match := nextDataPattern.FindSubmatch(page)
	if match == nil {
		o.logger.Warn().Str("sport", sport).Str("date", date).Msg("no odds data found on page")
		return []OddsGame{}, nil
	}

	var next struct {
		BuildID string `json:"buildId"`
	}
	if err := json.Unmarshal(match[1], &next); err != nil || next.BuildID == "" {
		o.logger.Warn().Str("sport", sport).Str("date", date).Msg("odds page missing build id")
		return []OddsGame{}, nil
	}

	params := url.Values{}
	params.Set("league", league)
	params.Set("oddsType", "money-line")
	params.Set("oddsScope", "full-game")
	params.Set("date", date)
	dataURL := fmt.Sprintf("%s/_next/data/%s/betting-odds/%s/money-line/full-game.json?%s",
		o.baseURL, next.BuildID, league, params.Encode())

	body, err := o.get(ctx, dataURL)
	if err != nil {
		return nil, err
	}

	var board oddsBoard
	if err := json.Unmarshal(body, &board); err != nil {
		return nil, fmt.Errorf("parse odds board: %w", err)
	}
	if len(board.PageProps.OddsTables) == 0 {
		o.logger.Warn().Str("sport", sport).Str("date", date).Msg("odds board has no tables")
		return []OddsGame{}, nil
	}

	rows := board.PageProps.OddsTables[0].OddsTableModel.GameRows
	games := make([]OddsGame, 0, len(rows))
	for _, row := range rows {
		games = append(games, o.toGame(row))
	}

	o.logger.Info().Str("sport", sport).Str("date", date).Int("games", len(games)).Msg("odds scraped")
	return games, nil
}

func (o *Odds) toGame(row gameRow) OddsGame {
	view := row.GameView
	game := OddsGame{
		Key:           MatchKey(view.StartDate, view.AwayTeam.FullName, view.HomeTeam.FullName),
		Date:          view.StartDate,
		HomeTeam:      view.HomeTeam.FullName,
		AwayTeam:      view.AwayTeam.FullName,
		HomeMoneyline: make(map[string]int),
		AwayMoneyline: make(map[string]int),
	}

	for _, line := range row.OddsViews {
		if line == nil {
			continue
		}
		selected := line.CurrentLine
		if o.opts.OpeningLine {
			selected = line.OpeningLine
		}
		if selected == nil || selected.HomeOdds == nil || selected.AwayOdds == nil {
			continue
		}
		if _, seen := game.HomeMoneyline[line.Sportsbook]; !seen {
			game.Books = append(game.Books, line.Sportsbook)
		}
		game.HomeMoneyline[line.Sportsbook] = *selected.HomeOdds
		game.AwayMoneyline[line.Sportsbook] = *selected.AwayOdds
	}
	return game
}

func (o *Odds) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgentOr(o.opts.UserAgent))
	if o.opts.APIKey != "" {
		req.Header.Set("X-API-Key", o.opts.APIKey)
	}
	return do(o.client, o.logger, "odds", req)
}

type oddsBoard struct {
	PageProps struct {
		OddsTables []struct {
			OddsTableModel struct {
				GameRows []gameRow `json:"gameRows"`
			} `json:"oddsTableModel"`
		} `json:"oddsTables"`
	} `json:"pageProps"`
}

type gameRow struct {
	GameView struct {
		GameID    int64  `json:"gameId"`
		StartDate string `json:"startDate"`
		HomeTeam  struct {
			FullName string `json:"fullName"`
		} `json:"homeTeam"`
		AwayTeam struct {
			FullName string `json:"fullName"`
		} `json:"awayTeam"`
	} `json:"gameView"`
	OddsViews []*oddsView `json:"oddsViews"`
}

type oddsView struct {
	Sportsbook  string    `json:"sportsbook"`
	CurrentLine *lineView `json:"currentLine"`
	OpeningLine *lineView `json:"openingLine"`
}

type lineView struct {
	HomeOdds *int `json:"homeOdds"`
	AwayOdds *int `json:"awayOdds"`
}

var _ OddsScraper = (*Odds)(nil)
