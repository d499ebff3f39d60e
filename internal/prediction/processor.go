package prediction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"odds-oracle/internal/alerting"
	"odds-oracle/internal/fetcher"
	"odds-oracle/internal/oddscache"
	"odds-oracle/internal/results"
	"odds-oracle/internal/retry"
	"odds-oracle/internal/storage"
)

// DefaultCallTimeout bounds one prediction attempt.
const DefaultCallTimeout = 180 * time.Second

// OddsSource is the slice of the odds cache the processor needs.
type OddsSource interface {
	RefreshOne(ctx context.Context, gameID, awayTeam, homeTeam string) error
	Get(gameID string) (oddscache.Snapshot, bool)
}

// ResultAppender persists one prediction.
type ResultAppender interface {
	Append(ctx context.Context, day, model string, forecast bool, rec results.Record) error
}

// Options tune the processor.
type Options struct {
	Models         []string
	ForecastModels []string
	CallTimeout    time.Duration
	Retry          retry.Policy
	Predict        fetcher.PredictOptions
	Location       *time.Location
	Now            func() time.Time
}

// Processor produces and stores every model's prediction for a game.
type Processor struct {
	predictor fetcher.Predictor
	odds      OddsSource
	results   ResultAppender
	limiter   *semaphore.Weighted
	mirror    storage.PredictionStore
	notifier  alerting.Notifier
	opts      Options
	logger    zerolog.Logger
}

type target struct {
	model    string
	forecast bool
}

// New constructs a processor. The limiter is shared by every caller in the
// process; mirror and notifier may be nil.
func New(predictor fetcher.Predictor, odds OddsSource, store ResultAppender, limiter *semaphore.Weighted, mirror storage.PredictionStore, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Processor {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{
		predictor: predictor,
		odds:      odds,
		results:   store,
		limiter:   limiter,
		mirror:    mirror,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With().Str("component", "game_processor").Logger(),
	}
}

// Process refreshes the game's odds, fans out one request per configured
// model and persists every non-empty answer. It returns the number of stored
// predictions; failures of individual models are joined into the error while
// the successful ones are already on disk.
func (p *Processor) Process(ctx context.Context, game fetcher.ScheduledGame) (int, error) {
	desc := game.Description()
	log := p.logger.With().Str("game", desc).Str("game_id", game.ID).Logger()
	start := time.Now()
	log.Info().Msg("processing game")

	if err := p.odds.RefreshOne(ctx, game.ID, game.AwayTeam, game.HomeTeam); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		log.Warn().Err(err).Msg("odds refresh failed, using cached odds")
	}

	var odds *fetcher.OddsGame
	if snap, ok := p.odds.Get(game.ID); ok {
		latest := snap.Latest
		odds = &latest
	} else {
		log.Warn().Msg("no odds data available, proceeding with limited information")
	}
	oddsInfo := OddsInfo(game.HomeTeam, game.AwayTeam, odds)
	log.Debug().Str("odds_info", oddsInfo).Msg("odds info prepared")

	targets := p.targets()
	if len(targets) == 0 {
		log.Warn().Msg("no models configured")
		return 0, nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		persisted int
		errs      []error
	)
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			stored, err := p.runTarget(ctx, game, oddsInfo, t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if stored {
				persisted++
			}
		}(t)
	}
	wg.Wait()

	err := errors.Join(errs...)
	event := log.Info()
	if err != nil {
		event = log.Error().Err(err)
	}
	event.Int("persisted", persisted).
		Int("targets", len(targets)).
		Dur("elapsed", time.Since(start)).
		Msg("finished processing game")
	return persisted, err
}

func (p *Processor) targets() []target {
	out := make([]target, 0, len(p.opts.Models)+len(p.opts.ForecastModels))
	for _, m := range p.opts.Models {
		out = append(out, target{model: m})
	}
	for _, m := range p.opts.ForecastModels {
		out = append(out, target{model: m, forecast: true})
	}
	return out
}

func (p *Processor) runTarget(ctx context.Context, game fetcher.ScheduledGame, oddsInfo string, t target) (bool, error) {
	desc := game.Description()
	log := p.logger.With().
		Str("game", desc).
		Str("model", t.model).
		Bool("forecast", t.forecast).
		Logger()

	req := fetcher.PredictionRequest{
		GameID:   game.ID,
		Model:    t.model,
		Forecast: t.forecast,
		Query:    Query(desc, oddsInfo, t.forecast),
		GameData: game.Payload,
		Options:  p.opts.Predict,
	}
	if t.forecast {
		req.AdditionalContext = AnalysisQuery(desc, oddsInfo)
	}

	start := time.Now()
	pred, err := p.predict(ctx, req, log)
	if err != nil {
		return false, fmt.Errorf("%s model %s: %w", desc, label(t), err)
	}
	if pred.Response() == "" {
		log.Warn().Msg("received an empty response")
		return false, nil
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("prediction received")

	now := p.opts.Now().In(p.opts.Location)
	day := now.Format(time.DateOnly)
	rec := p.record(game, req, oddsInfo, pred, t, now)

	if err := p.results.Append(ctx, day, t.model, t.forecast, rec); err != nil {
		return false, fmt.Errorf("%s model %s: persist: %w", desc, label(t), err)
	}
	log.Info().Str("record_id", rec.ID).Msg("prediction stored")

	p.mirrorRecord(ctx, day, rec, log)
	p.notify(ctx, rec, log)
	return true, nil
}

// predict runs one request under the shared limiter with a per-attempt
// timeout. The slot is released between attempts.
func (p *Processor) predict(ctx context.Context, req fetcher.PredictionRequest, log zerolog.Logger) (*fetcher.Prediction, error) {
	policy := p.opts.Retry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("prediction failed, retrying")
	}

	return retry.Value(ctx, policy, func(ctx context.Context) (*fetcher.Prediction, error) {
		if p.limiter != nil {
			if err := p.limiter.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			defer p.limiter.Release(1)
		}

		callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
		defer cancel()
		return p.predictor.Predict(callCtx, req)
	})
}

func (p *Processor) record(game fetcher.ScheduledGame, req fetcher.PredictionRequest, oddsInfo string, pred *fetcher.Prediction, t target, now time.Time) results.Record {
	rec := results.Record{
		ID:           uuid.NewString(),
		Model:        t.model,
		IsForecast:   t.forecast,
		GameID:       game.ID,
		Game:         game.Description(),
		GameDatetime: game.StartTime,
		Query:        req.Query,
		Response:     pred.Response(),
		HomeTeam:     game.HomeTeam,
		AwayTeam:     game.AwayTeam,
		OddsInfo:     oddsInfo,
		Timestamp:    now,
		GameData:     req.GameData,
	}
	if t.forecast && pred.Forecast != nil {
		probability := pred.Forecast.Probability
		rec.Reasoning = pred.Forecast.Reasoning
		rec.Probability = &probability
		rec.Likelihood = pred.Forecast.Likelihood
	}
	return rec
}

func (p *Processor) mirrorRecord(ctx context.Context, day string, rec results.Record, log zerolog.Logger) {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.InsertPrediction(ctx, storage.RowFromRecord(day, rec)); err != nil {
		log.Error().Err(err).Str("record_id", rec.ID).Msg("failed to mirror prediction")
	}
}

func (p *Processor) notify(ctx context.Context, rec results.Record, log zerolog.Logger) {
	if p.notifier == nil || !rec.IsForecast || rec.Probability == nil {
		return
	}
	note := alerting.Notification{
		Game:        rec.Game,
		GameTime:    rec.GameDatetime,
		Model:       rec.Model,
		Forecast:    rec.Response,
		Reasoning:   rec.Reasoning,
		Probability: *rec.Probability,
		Likelihood:  rec.Likelihood,
		OddsInfo:    rec.OddsInfo,
	}
	if err := p.notifier.Notify(ctx, note); err != nil {
		log.Error().Err(err).Msg("failed to dispatch forecast notification")
	}
}

func label(t target) string {
	if t.forecast {
		return t.model + " (forecast)"
	}
	return t.model
}
