package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"odds-oracle/internal/fetcher"
	"odds-oracle/internal/oddscache"
	"odds-oracle/internal/prediction"
	"odds-oracle/internal/results"
	"odds-oracle/internal/storage"
)

// SimulateOptions describe the synthetic forecast pushed through the notifier.
type SimulateOptions struct {
	HomeTeam    string
	AwayTeam    string
	Probability int
	Likelihood  string
}

// SimulateForecast 使用固定的预测结果跑一遍预测流程，用于验证告警通道。
// 结果写入临时目录，不会影响 data_dir。
func (a *App) SimulateForecast(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}
	if opts.Probability < 0 || opts.Probability > 100 {
		return fmt.Errorf("probability must be within 0-100, got %d", opts.Probability)
	}

	dir, err := os.MkdirTemp("", "oddsoracle-simulate-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	start := time.Now().In(a.location).Add(30 * time.Minute)
	game := fetcher.ScheduledGame{
		ID:        "simulated",
		HomeTeam:  opts.HomeTeam,
		AwayTeam:  opts.AwayTeam,
		StartTime: start,
	}

	predictor := &staticPredictor{probability: opts.Probability, likelihood: opts.Likelihood}
	odds := staticOdds{}
	store := results.NewStore(dir, a.location, a.Logger)
	models := a.Config.Prediction.ForecastModels
	if len(models) == 0 {
		models = []string{"simulated"}
	}

	processor := prediction.New(predictor, odds, store, semaphore.NewWeighted(1), storage.PredictionStore(nil), notifier, prediction.Options{
		ForecastModels: models[:1],
		Retry:          a.retryPolicy(),
		Location:       a.location,
	}, a.Logger)

	n, err := processor.Process(ctx, game)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("simulated forecast was not recorded")
	}
	a.Logger.Info().Str("game", game.Description()).Msg("simulated forecast sent")
	return nil
}

type staticPredictor struct {
	probability int
	likelihood  string
}

func (s *staticPredictor) Predict(ctx context.Context, req fetcher.PredictionRequest) (*fetcher.Prediction, error) {
	return &fetcher.Prediction{
		Forecast: &fetcher.Forecast{
			Forecast:    fmt.Sprintf("Simulated forecast for game %s: %d%% probability.", req.GameID, s.probability),
			Reasoning:   "Synthetic forecast produced by simulate-forecast.",
			Probability: s.probability,
			Likelihood:  s.likelihood,
		},
	}, nil
}

type staticOdds struct{}

func (staticOdds) RefreshOne(ctx context.Context, gameID, awayTeam, homeTeam string) error {
	return nil
}

func (staticOdds) Get(gameID string) (oddscache.Snapshot, bool) {
	return oddscache.Snapshot{}, false
}

var _ fetcher.Predictor = (*staticPredictor)(nil)
var _ prediction.OddsSource = staticOdds{}
