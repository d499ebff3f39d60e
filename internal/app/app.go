package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"odds-oracle/internal/alerting"
	"odds-oracle/internal/config"
	"odds-oracle/internal/fetcher"
	"odds-oracle/internal/oddscache"
	"odds-oracle/internal/prediction"
	"odds-oracle/internal/results"
	"odds-oracle/internal/retry"
	"odds-oracle/internal/scheduler"
	"odds-oracle/internal/service"
	"odds-oracle/internal/statusapi"
	"odds-oracle/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	location *time.Location
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), location: loc}, nil
}

func (a *App) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: a.Config.Retry.MaxAttempts,
		BaseDelay:   a.Config.Retry.BaseDelay,
		MaxDelay:    a.Config.Retry.MaxDelay,
	}
}

func (a *App) newFetchers() (*fetcher.Schedule, *fetcher.Odds, *fetcher.PredictionClient) {
	schedule := fetcher.NewSchedule(fetcher.ScheduleOptions{
		BaseURL:   a.Config.Schedule.BaseURL,
		SportID:   a.Config.Schedule.SportID,
		Timeout:   a.Config.Schedule.RequestTimeout,
		UserAgent: a.Config.Schedule.UserAgent,
		Location:  a.location,
	}, a.Logger)

	odds := fetcher.NewOdds(fetcher.OddsOptions{
		BaseURL:     a.Config.Odds.BaseURL,
		APIKey:      a.Config.Credentials.OddsAPIKey,
		Timeout:     a.Config.Odds.RequestTimeout,
		UserAgent:   a.Config.Odds.UserAgent,
		OpeningLine: a.Config.Odds.OpeningLine,
	}, a.Logger)

	predictor := fetcher.NewPredictionClient(fetcher.PredictorOptions{
		BaseURL:      a.Config.Prediction.BaseURL,
		TokenURL:     a.Config.Prediction.TokenURL,
		ClientID:     a.Config.Credentials.ClientID,
		ClientSecret: a.Config.Credentials.ClientSecret,
		Scopes:       a.Config.Prediction.Scopes,
		Timeout:      a.Config.Prediction.CallTimeout,
		UserAgent:    a.Config.Prediction.UserAgent,
	}, a.Logger)

	return schedule, odds, predictor
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newResultStore() *results.Store {
	return results.NewStore(a.Config.App.DataDir, a.location, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) openRedis(ctx context.Context) (*oddscache.RedisMirror, error) {
	if a.Config.Redis.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", a.Config.Redis.Addr, err)
	}
	return oddscache.NewRedisMirror(client, a.Config.Redis.TTL), nil
}

// runtime is the fully wired object graph of the long-running loop.
type runtime struct {
	cache   *oddscache.Cache
	service *service.Service
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) build(ctx context.Context) (*runtime, error) {
	rt := &runtime{}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mirror storage.PredictionStore
		locker storage.AdvisoryLocker
	)
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; prediction mirror disabled")
	} else {
		mirror = store
		locker = store
		rt.closers = append(rt.closers, closeStore)
	}

	var oddsMirror oddscache.Mirror
	redisMirror, err := a.openRedis(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; odds mirror disabled")
	} else if redisMirror != nil {
		oddsMirror = redisMirror
		rt.closers = append(rt.closers, func() { _ = redisMirror.Close() })
	}

	schedule, scraper, predictor := a.newFetchers()
	policy := a.retryPolicy()

	rt.cache = oddscache.New(scraper, oddsMirror, oddscache.Options{
		Sport:    a.Config.App.Sport,
		Location: a.location,
		Retry:    policy,
	}, a.Logger)

	limiter := semaphore.NewWeighted(a.Config.Prediction.MaxConcurrent)
	processor := prediction.New(predictor, rt.cache, a.newResultStore(), limiter, mirror, a.newNotifier(), prediction.Options{
		Models:         a.Config.Prediction.Models,
		ForecastModels: a.Config.Prediction.ForecastModels,
		CallTimeout:    a.Config.Prediction.CallTimeout,
		Retry:          policy,
		Predict: fetcher.PredictOptions{
			WebSearch: a.Config.Prediction.WebSearch,
			Articles:  a.Config.Prediction.ArticlesToUse,
			Lookback:  a.Config.Prediction.Lookback,
		},
		Location: a.location,
	}, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Loop.Interval,
		ErrorBackoff: a.Config.Loop.ErrorBackoff,
		StartupDelay: a.Config.Loop.StartupDelay,
		Location:     a.location,
	}, a.Logger)

	rt.service = service.New(sched, schedule, rt.cache, processor, locker, service.Options{
		Sport:                 a.Config.App.Sport,
		Window:                a.Config.Loop.Window,
		InProgressSpan:        a.Config.Loop.InProgressSpan,
		InitialRefreshTimeout: a.Config.Loop.InitialRefreshTimeout,
		ScheduleTimeout:       a.Config.Loop.ScheduleTimeout,
		DailyRefreshCron:      a.Config.Loop.DailyRefreshCron,
		AdvisoryLockKey:       a.Config.Loop.AdvisoryLockKey,
		Retry:                 policy,
		Location:              a.location,
	}, a.Logger)

	return rt, nil
}

// Run executes the long-running prediction loop until SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.service.Run(gctx)
	})
	if listen := a.Config.Status.Listen; listen != "" {
		status := statusapi.New(listen, rt.service, rt.cache, a.Logger)
		g.Go(func() error {
			return status.Run(gctx)
		})
	}

	a.Logger.Info().
		Str("data_dir", a.Config.App.DataDir).
		Str("timezone", a.location.String()).
		Msg("starting prediction service")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("prediction service stopped")
	return nil
}

// ExportOptions hold parameters for exporting stored predictions.
type ExportOptions struct {
	From    string
	To      string
	PNGPath string
	CSVPath string
	MaxRows int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Day    string
	Limit  int
	FromDB bool
}

// BackfillOptions configure the mirror backfill job.
type BackfillOptions struct {
	From   string
	To     string
	DryRun bool
}
