package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"odds-oracle/internal/alerting"
	"odds-oracle/internal/fetcher"
	"odds-oracle/internal/oddscache"
	"odds-oracle/internal/results"
	"odds-oracle/internal/retry"
	"odds-oracle/internal/storage"
)

var fixedNow = time.Date(2024, 7, 1, 18, 30, 0, 0, time.UTC)

type fakeOdds struct {
	refreshErr error
	snap       *oddscache.Snapshot
	refreshed  atomic.Int32
}

func (f *fakeOdds) RefreshOne(ctx context.Context, gameID, awayTeam, homeTeam string) error {
	f.refreshed.Add(1)
	return f.refreshErr
}

func (f *fakeOdds) Get(gameID string) (oddscache.Snapshot, bool) {
	if f.snap == nil {
		return oddscache.Snapshot{}, false
	}
	return *f.snap, true
}

type fakePredictor struct {
	mu       sync.Mutex
	requests []fetcher.PredictionRequest
	answer   func(req fetcher.PredictionRequest) (*fetcher.Prediction, error)

	inFlight atomic.Int32
	peak     atomic.Int32
	hold     time.Duration
}

func (f *fakePredictor) Predict(ctx context.Context, req fetcher.PredictionRequest) (*fetcher.Prediction, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.answer != nil {
		return f.answer(req)
	}
	return defaultAnswer(req)
}

func defaultAnswer(req fetcher.PredictionRequest) (*fetcher.Prediction, error) {
	if req.Forecast {
		return &fetcher.Prediction{Forecast: &fetcher.Forecast{
			Forecast:    "Yankees win",
			Reasoning:   "starting pitching",
			Probability: 58,
			Likelihood:  "likely",
		}}, nil
	}
	return &fetcher.Prediction{Text: "My prediction is: " + req.Model}, nil
}

type recordingMirror struct {
	mu   sync.Mutex
	rows []storage.PredictionRow
}

func (m *recordingMirror) InsertPrediction(ctx context.Context, row storage.PredictionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	return nil
}

func (m *recordingMirror) ListRecentPredictions(ctx context.Context, limit int) ([]storage.PredictionRow, error) {
	return nil, nil
}

func (m *recordingMirror) CountPredictions(ctx context.Context, day string) (int64, error) {
	return int64(len(m.rows)), nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func testGame() fetcher.ScheduledGame {
	return fetcher.ScheduledGame{
		ID:        "745123",
		HomeTeam:  "Boston Red Sox",
		AwayTeam:  "New York Yankees",
		StartTime: fixedNow.Add(30 * time.Minute),
	}
}

func testOptions() Options {
	return Options{
		Models:         []string{"gpt-4o", "meta-llama/Meta-Llama-3-70B-Instruct", "claude-3-5-sonnet-20240620"},
		ForecastModels: []string{"claude-3-5-sonnet-20240620", "gpt-4o"},
		CallTimeout:    time.Second,
		Retry:          retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Predict:        fetcher.PredictOptions{WebSearch: true, Articles: 12, Lookback: 1},
		Now:            func() time.Time { return fixedNow },
	}
}

func newTestStore(t *testing.T) *results.Store {
	t.Helper()
	return results.NewStore(t.TempDir(), time.UTC, zerolog.Nop())
}

func TestProcessPersistsEveryTarget(t *testing.T) {
	store := newTestStore(t)
	predictor := &fakePredictor{}
	odds := &fakeOdds{}
	mirror := &recordingMirror{}
	notifier := &recordingNotifier{}
	p := New(predictor, odds, store, semaphore.NewWeighted(5), mirror, notifier, testOptions(), zerolog.Nop())

	n, err := p.Process(context.Background(), testGame())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 1, odds.refreshed.Load())

	for _, tc := range []struct {
		model    string
		forecast bool
	}{
		{"gpt-4o", false},
		{"meta-llama/Meta-Llama-3-70B-Instruct", false},
		{"claude-3-5-sonnet-20240620", false},
		{"claude-3-5-sonnet-20240620", true},
		{"gpt-4o", true},
	} {
		recs, err := store.Read("2024-07-01", tc.model, tc.forecast)
		require.NoError(t, err)
		require.Len(t, recs, 1, "%s forecast=%v", tc.model, tc.forecast)
		rec := recs[0]
		assert.Equal(t, "New York Yankees vs Boston Red Sox", rec.Game)
		assert.Equal(t, NoOddsInfo, rec.OddsInfo)
		assert.Equal(t, tc.forecast, rec.IsForecast)
		assert.NotEmpty(t, rec.ID)
		if tc.forecast {
			require.NotNil(t, rec.Probability)
			assert.Equal(t, 58, *rec.Probability)
			assert.Equal(t, "Yankees win", rec.Response)
		} else {
			assert.Nil(t, rec.Probability)
		}
	}

	assert.Len(t, mirror.rows, 5)
	assert.Len(t, notifier.notes, 2)
}

func TestProcessForwardsForecastContext(t *testing.T) {
	predictor := &fakePredictor{}
	snap := oddscache.Snapshot{Latest: fetcher.OddsGame{
		HomeMoneyline: map[string]int{"fanduel": -140},
		AwayMoneyline: map[string]int{"fanduel": 120},
		Books:         []string{"fanduel"},
	}}
	p := New(predictor, &fakeOdds{snap: &snap}, newTestStore(t), semaphore.NewWeighted(5), nil, nil, testOptions(), zerolog.Nop())

	_, err := p.Process(context.Background(), testGame())
	require.NoError(t, err)

	for _, req := range predictor.requests {
		if req.Forecast {
			assert.Equal(t, ForecastQuery("New York Yankees vs Boston Red Sox"), req.Query)
			assert.Contains(t, req.AdditionalContext, "Boston Red Sox: -140")
			assert.Equal(t, fetcher.PredictOptions{WebSearch: true, Articles: 12, Lookback: 1}, req.Options)
		} else {
			assert.Contains(t, req.Query, "Current odds from fanduel:")
			assert.Empty(t, req.AdditionalContext)
		}
	}
}

func TestProcessSkipsEmptyResponse(t *testing.T) {
	store := newTestStore(t)
	predictor := &fakePredictor{answer: func(req fetcher.PredictionRequest) (*fetcher.Prediction, error) {
		if req.Model == "meta-llama/Meta-Llama-3-70B-Instruct" {
			return nil, nil
		}
		return defaultAnswer(req)
	}}
	p := New(predictor, &fakeOdds{}, store, semaphore.NewWeighted(5), nil, nil, testOptions(), zerolog.Nop())

	n, err := p.Process(context.Background(), testGame())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	recs, err := store.Read("2024-07-01", "meta-llama/Meta-Llama-3-70B-Instruct", false)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestProcessFailingModelDoesNotStopOthers(t *testing.T) {
	store := newTestStore(t)
	var calls atomic.Int32
	predictor := &fakePredictor{answer: func(req fetcher.PredictionRequest) (*fetcher.Prediction, error) {
		if req.Model == "gpt-4o" && !req.Forecast {
			calls.Add(1)
			return nil, errors.New("upstream 502")
		}
		return defaultAnswer(req)
	}}
	p := New(predictor, &fakeOdds{}, store, semaphore.NewWeighted(5), nil, nil, testOptions(), zerolog.Nop())

	n, err := p.Process(context.Background(), testGame())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 502")
	assert.Equal(t, 4, n)
	assert.EqualValues(t, 3, calls.Load(), "failing model should be retried")

	recs, err := store.Read("2024-07-01", "gpt-4o", true)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestProcessContinuesWhenOddsRefreshFails(t *testing.T) {
	p := New(&fakePredictor{}, &fakeOdds{refreshErr: errors.New("scrape failed")}, newTestStore(t), semaphore.NewWeighted(5), nil, nil, testOptions(), zerolog.Nop())

	n, err := p.Process(context.Background(), testGame())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestProcessRespectsLimiter(t *testing.T) {
	predictor := &fakePredictor{hold: 20 * time.Millisecond}
	p := New(predictor, &fakeOdds{}, newTestStore(t), semaphore.NewWeighted(2), nil, nil, testOptions(), zerolog.Nop())

	n, err := p.Process(context.Background(), testGame())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.LessOrEqual(t, predictor.peak.Load(), int32(2))
}

func TestProcessLimiterSharedAcrossGames(t *testing.T) {
	predictor := &fakePredictor{hold: 30 * time.Millisecond}
	store := newTestStore(t)
	p := New(predictor, &fakeOdds{}, store, semaphore.NewWeighted(5), nil, nil, testOptions(), zerolog.Nop())

	ids := []string{"745123", "745124", "745125"}
	var wg sync.WaitGroup
	var total atomic.Int32
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			game := testGame()
			game.ID = id
			n, err := p.Process(context.Background(), game)
			assert.NoError(t, err)
			total.Add(int32(n))
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(15), total.Load())
	assert.LessOrEqual(t, predictor.peak.Load(), int32(5))
	assert.Greater(t, predictor.peak.Load(), int32(1))

	day := fixedNow.Format(time.DateOnly)
	recs, err := store.Read(day, "gpt-4o", false)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestProcessCarriesGameData(t *testing.T) {
	predictor := &fakePredictor{}
	store := newTestStore(t)
	p := New(predictor, &fakeOdds{}, store, semaphore.NewWeighted(5), nil, nil, testOptions(), zerolog.Nop())

	game := testGame()
	game.Payload = json.RawMessage(`{"gamePk":745123,"venue":{"name":"Fenway Park"}}`)
	_, err := p.Process(context.Background(), game)
	require.NoError(t, err)

	predictor.mu.Lock()
	for _, req := range predictor.requests {
		assert.JSONEq(t, string(game.Payload), string(req.GameData))
	}
	predictor.mu.Unlock()

	day := fixedNow.Format(time.DateOnly)
	for _, forecast := range []bool{false, true} {
		recs, err := store.Read(day, "gpt-4o", forecast)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.JSONEq(t, string(game.Payload), string(recs[0].GameData))
	}
}

func TestProcessNoModels(t *testing.T) {
	opts := testOptions()
	opts.Models = nil
	opts.ForecastModels = nil
	p := New(&fakePredictor{}, &fakeOdds{}, newTestStore(t), semaphore.NewWeighted(5), nil, nil, opts, zerolog.Nop())

	n, err := p.Process(context.Background(), testGame())
	require.NoError(t, err)
	assert.Zero(t, n)
}
