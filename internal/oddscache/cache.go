package oddscache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"odds-oracle/internal/fetcher"
	"odds-oracle/internal/retry"
)

// Snapshot tracks the first and most recent odds seen for a game.
type Snapshot struct {
	GameID      string           `json:"game_id"`
	Initial     fetcher.OddsGame `json:"initial_odds"`
	Latest      fetcher.OddsGame `json:"latest_odds"`
	LastUpdated time.Time        `json:"last_updated"`
}

// Mirror receives every snapshot written by a refresh.
type Mirror interface {
	Store(ctx context.Context, snapshots []Snapshot) error
}

// Options tune the cache.
type Options struct {
	Sport    string
	Location *time.Location
	Retry    retry.Policy
	Now      func() time.Time
}

type state struct {
	// snapshots are keyed by the odds-source key.
	snapshots map[string]Snapshot
	// aliases bind schedule game ids to odds-source keys.
	aliases         map[string]string
	lastFullRefresh time.Time
}

// Cache holds the odds board for the day. Readers never block: every write
// publishes a complete new state.
type Cache struct {
	scraper fetcher.OddsScraper
	mirror  Mirror
	opts    Options
	logger  zerolog.Logger

	writeMu sync.Mutex
	current atomic.Pointer[state]
}

// New constructs an empty cache.
func New(scraper fetcher.OddsScraper, mirror Mirror, opts Options, logger zerolog.Logger) *Cache {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sport == "" {
		opts.Sport = "MLB"
	}

	c := &Cache{
		scraper: scraper,
		mirror:  mirror,
		opts:    opts,
		logger:  logger.With().Str("component", "odds_cache").Logger(),
	}
	c.current.Store(&state{
		snapshots: map[string]Snapshot{},
		aliases:   map[string]string{},
	})
	return c
}

// RefreshAll replaces the whole cache with a fresh scrape of date.
func (c *Cache) RefreshAll(ctx context.Context, sport, date string) error {
	start := time.Now()
	c.logger.Info().Str("sport", sport).Str("date", date).Msg("starting full odds refresh")

	games, err := c.scrape(ctx, sport, date)
	if err != nil {
		return fmt.Errorf("refresh all odds: %w", err)
	}

	now := c.opts.Now().In(c.opts.Location)

	c.writeMu.Lock()
	prev := c.current.Load()
	next := &state{
		snapshots:       make(map[string]Snapshot, len(games)),
		aliases:         make(map[string]string, len(prev.aliases)),
		lastFullRefresh: now,
	}
	written := make([]Snapshot, 0, len(games))
	for _, g := range games {
		snap := Snapshot{GameID: g.Key, Initial: g, Latest: g, LastUpdated: now}
		next.snapshots[g.Key] = snap
		written = append(written, snap)
	}
	for id, key := range prev.aliases {
		if _, ok := next.snapshots[key]; ok {
			next.aliases[id] = key
		}
	}
	c.current.Store(next)
	c.writeMu.Unlock()

	c.mirrorWrite(ctx, written)
	c.logger.Info().Int("games", len(games)).Dur("elapsed", time.Since(start)).Msg("completed full odds refresh")
	return nil
}

// RefreshOne re-scrapes the day and updates the latest odds of the game whose
// team names match exactly. A missing game is logged and leaves the cache
// untouched.
func (c *Cache) RefreshOne(ctx context.Context, gameID, awayTeam, homeTeam string) error {
	date := c.opts.Now().In(c.opts.Location).Format(time.DateOnly)

	games, err := c.scrape(ctx, c.opts.Sport, date)
	if err != nil {
		return fmt.Errorf("refresh odds for game %s: %w", gameID, err)
	}

	var found *fetcher.OddsGame
	for i := range games {
		if games[i].HomeTeam == homeTeam && games[i].AwayTeam == awayTeam {
			found = &games[i]
			break
		}
	}
	if found == nil {
		c.logger.Warn().Str("game_id", gameID).
			Str("away_team", awayTeam).
			Str("home_team", homeTeam).
			Msg("failed to update odds: game not found")
		return nil
	}

	now := c.opts.Now().In(c.opts.Location)

	c.writeMu.Lock()
	prev := c.current.Load()
	next := prev.clone()

	snap, ok := next.snapshots[found.Key]
	if !ok {
		if key, aliased := next.aliases[gameID]; aliased {
			snap, ok = next.snapshots[key]
			delete(next.snapshots, key)
		}
	}
	if !ok {
		snap = Snapshot{Initial: *found}
	}
	snap.GameID = gameID
	snap.Latest = *found
	snap.LastUpdated = now
	next.snapshots[found.Key] = snap
	next.aliases[gameID] = found.Key
	c.current.Store(next)
	c.writeMu.Unlock()

	c.mirrorWrite(ctx, []Snapshot{snap})
	c.logger.Info().Str("game_id", gameID).Str("odds_key", found.Key).Msg("updated odds for game")
	return nil
}

// Get returns the snapshot for a schedule game id or odds-source key.
func (c *Cache) Get(gameID string) (Snapshot, bool) {
	st := c.current.Load()
	key := gameID
	if aliased, ok := st.aliases[gameID]; ok {
		key = aliased
	}
	snap, ok := st.snapshots[key]
	return snap, ok
}

// Snapshots returns every cached entry ordered by game id.
func (c *Cache) Snapshots() []Snapshot {
	st := c.current.Load()
	out := make([]Snapshot, 0, len(st.snapshots))
	for _, snap := range st.snapshots {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// LastFullRefresh is the time of the last successful RefreshAll.
func (c *Cache) LastFullRefresh() time.Time {
	return c.current.Load().lastFullRefresh
}

// Len reports the number of cached games.
func (c *Cache) Len() int {
	return len(c.current.Load().snapshots)
}

func (c *Cache) scrape(ctx context.Context, sport, date string) ([]fetcher.OddsGame, error) {
	policy := c.opts.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("odds scrape failed, retrying")
	}
	return retry.Value(ctx, policy, func(ctx context.Context) ([]fetcher.OddsGame, error) {
		return c.scraper.ScrapeOdds(ctx, sport, date)
	})
}

func (c *Cache) mirrorWrite(ctx context.Context, snaps []Snapshot) {
	if c.mirror == nil || len(snaps) == 0 {
		return
	}
	if err := c.mirror.Store(ctx, snaps); err != nil {
		c.logger.Error().Err(err).Int("snapshots", len(snaps)).Msg("failed to mirror odds snapshots")
	}
}

func (s *state) clone() *state {
	next := &state{
		snapshots:       make(map[string]Snapshot, len(s.snapshots)+1),
		aliases:         make(map[string]string, len(s.aliases)+1),
		lastFullRefresh: s.lastFullRefresh,
	}
	for k, v := range s.snapshots {
		next.snapshots[k] = v
	}
	for k, v := range s.aliases {
		next.aliases[k] = v
	}
	return next
}
