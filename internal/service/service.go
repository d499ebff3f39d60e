package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"odds-oracle/internal/fetcher"
	"odds-oracle/internal/retry"
	"odds-oracle/internal/scheduler"
	"odds-oracle/internal/storage"
)

// State is the lifecycle position of the main loop.
type State int32

const (
	StateInitializing State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// OddsRefresher rebuilds the odds cache.
type OddsRefresher interface {
	RefreshAll(ctx context.Context, sport, date string) error
}

// GameProcessor handles one game that is due.
type GameProcessor interface {
	Process(ctx context.Context, game fetcher.ScheduledGame) (int, error)
}

// Options tune the loop.
type Options struct {
	Sport string
	// Window is how far ahead of first pitch a game becomes due.
	Window                time.Duration
	InProgressSpan        time.Duration
	InitialRefreshTimeout time.Duration
	ScheduleTimeout       time.Duration
	DailyRefreshCron      string
	AdvisoryLockKey       int64
	Retry                 retry.Policy
	Location              *time.Location
	Now                   func() time.Time
}

// Service owns the day's schedule and drives game processing.
type Service struct {
	scheduler *scheduler.Scheduler
	schedule  fetcher.ScheduleFetcher
	odds      OddsRefresher
	processor GameProcessor
	locker    storage.AdvisoryLocker
	opts      Options
	logger    zerolog.Logger

	state     atomic.Int32
	heartbeat atomic.Pointer[Heartbeat]

	mu       sync.Mutex
	games    []fetcher.ScheduledGame
	inFlight map[string]struct{}
}

// New constructs the main loop. locker may be nil.
func New(sched *scheduler.Scheduler, schedule fetcher.ScheduleFetcher, odds OddsRefresher, processor GameProcessor, locker storage.AdvisoryLocker, opts Options, logger zerolog.Logger) *Service {
	if opts.Sport == "" {
		opts.Sport = "MLB"
	}
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	if opts.InProgressSpan <= 0 {
		opts.InProgressSpan = 3 * time.Hour
	}
	if opts.InitialRefreshTimeout <= 0 {
		opts.InitialRefreshTimeout = 5 * time.Minute
	}
	if opts.ScheduleTimeout <= 0 {
		opts.ScheduleTimeout = 180 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		scheduler: sched,
		schedule:  schedule,
		odds:      odds,
		processor: processor,
		locker:    locker,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
		inFlight:  make(map[string]struct{}),
	}
}

// State reports the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// LastHeartbeat returns the most recent heartbeat, if any.
func (s *Service) LastHeartbeat() (Heartbeat, bool) {
	hb := s.heartbeat.Load()
	if hb == nil {
		return Heartbeat{}, false
	}
	return *hb, true
}

// Run blocks until ctx is cancelled. Outstanding game work is cancelled
// through ctx and waited for before Run returns nil.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	s.state.Store(int32(StateInitializing))
	s.initialRefresh(ctx)

	stopCron := func() {}
	if s.opts.DailyRefreshCron != "" {
		stop, err := s.scheduler.StartCron(ctx, s.opts.DailyRefreshCron, s.dailyRefresh)
		if err != nil {
			s.state.Store(int32(StateStopped))
			return err
		}
		stopCron = stop
	}

	s.state.Store(int32(StateRunning))
	s.logger.Info().Str("sport", s.opts.Sport).Dur("window", s.opts.Window).Msg("main loop running")

	stopDrain := context.AfterFunc(ctx, func() {
		if s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
			s.logger.Info().Msg("shutdown requested, draining")
		}
	})
	defer stopDrain()

	err := s.scheduler.Run(ctx, s.Iterate)

	s.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
	stopCron()
	s.state.Store(int32(StateStopped))
	s.logger.Info().Msg("graceful shutdown complete")

	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunOnce refreshes the odds board and performs a single iteration.
func (s *Service) RunOnce(ctx context.Context) error {
	s.state.Store(int32(StateInitializing))
	s.initialRefresh(ctx)
	s.state.Store(int32(StateRunning))
	defer s.state.Store(int32(StateStopped))
	return s.Iterate(ctx, s.now())
}

// Iterate fetches the schedule, processes every due game and logs a
// heartbeat. Only a schedule failure is returned; per-game errors are logged.
func (s *Service) Iterate(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip iteration because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	now := s.now()
	games, err := s.fetchSchedule(ctx, now.Format(time.DateOnly))
	if err != nil {
		return fmt.Errorf("fetch schedule: %w", err)
	}
	s.mu.Lock()
	s.games = games
	s.mu.Unlock()
	s.logger.Info().Int("games", len(games)).Msg("fetched today's games")

	due := SelectDue(games, now, s.opts.Window)

	var wg sync.WaitGroup
	for _, game := range due {
		if ctx.Err() != nil {
			break
		}
		if !s.claim(game.ID) {
			s.logger.Debug().Str("game_id", game.ID).Msg("game still in flight, skipping")
			continue
		}

		wg.Add(1)
		go func(game fetcher.ScheduledGame) {
			defer wg.Done()
			defer s.release(game.ID)
			s.processGame(ctx, game)
		}(game)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.emitHeartbeat(games)
	return nil
}

// SelectDue returns the games whose first pitch is within window of now,
// inclusive at both ends.
func SelectDue(games []fetcher.ScheduledGame, now time.Time, window time.Duration) []fetcher.ScheduledGame {
	due := make([]fetcher.ScheduledGame, 0)
	for _, g := range games {
		until := g.StartTime.Sub(now)
		if until >= 0 && until <= window {
			due = append(due, g)
		}
	}
	return due
}

func (s *Service) processGame(ctx context.Context, game fetcher.ScheduledGame) {
	log := s.logger.With().Str("game", game.Description()).Str("game_id", game.ID).Logger()
	n, err := s.processor.Process(ctx, game)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Int("persisted", n).Msg("game processing cancelled")
			return
		}
		log.Error().Err(err).Int("persisted", n).Msg("error processing game")
		return
	}
	log.Info().Int("persisted", n).Msg("finished processing game")
}

func (s *Service) initialRefresh(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, s.opts.InitialRefreshTimeout)
	defer cancel()

	date := s.now().Format(time.DateOnly)
	if err := s.odds.RefreshAll(refreshCtx, s.opts.Sport, date); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error().Dur("timeout", s.opts.InitialRefreshTimeout).Msg("initial odds refresh timed out")
			return
		}
		s.logger.Error().Err(err).Msg("initial odds refresh failed, starting with an empty cache")
	}
}

func (s *Service) dailyRefresh(ctx context.Context) {
	s.logger.Info().Msg("daily odds rebuild")
	s.initialRefresh(ctx)
}

func (s *Service) fetchSchedule(ctx context.Context, date string) ([]fetcher.ScheduledGame, error) {
	policy := s.opts.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("schedule fetch failed, retrying")
	}
	return retry.Value(ctx, policy, func(ctx context.Context) ([]fetcher.ScheduledGame, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.ScheduleTimeout)
		defer cancel()
		return s.schedule.FetchSchedule(callCtx, date)
	})
}

func (s *Service) emitHeartbeat(games []fetcher.ScheduledGame) {
	sorted := make([]fetcher.ScheduledGame, len(games))
	copy(sorted, games)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	hb := buildHeartbeat(sorted, s.now(), s.opts.Window, s.opts.InProgressSpan, s.State())
	s.heartbeat.Store(&hb)

	lines := zerolog.Arr()
	for _, g := range hb.Games {
		lines.Str(g.Line())
	}
	event := s.logger.Info().
		Str("date", hb.Date).
		Str("time", hb.At.Format(time.TimeOnly)).
		Int("games", len(hb.Games))
	if len(hb.Games) == 0 {
		event = event.Str("schedule", "No games scheduled")
	} else {
		event = event.Array("schedule", lines)
	}
	event.Msg("heartbeat: bot is running")
}

func (s *Service) claim(gameID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[gameID]; busy {
		return false
	}
	s.inFlight[gameID] = struct{}{}
	return true
}

func (s *Service) release(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, gameID)
}

// Games returns the most recently fetched schedule.
func (s *Service) Games() []fetcher.ScheduledGame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]fetcher.ScheduledGame, len(s.games))
	copy(out, s.games)
	return out
}

func (s *Service) now() time.Time {
	return s.opts.Now().In(s.opts.Location)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.AdvisoryLockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		// Postgres is optional; run without the cross-process guard.
		s.logger.Warn().Err(err).Int64("lock_key", s.opts.AdvisoryLockKey).Msg("advisory lock unavailable, running iteration unlocked")
		return nil, true, nil
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
