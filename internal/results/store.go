package results

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	predictionsDir = "predictions"
	fileSuffix     = "_predictions.json"
	forecastSuffix = "_forecast"
)

// Record is one persisted prediction.
type Record struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	IsForecast   bool      `json:"is_forecast"`
	GameID       string    `json:"game_id"`
	Game         string    `json:"game"`
	GameDatetime time.Time `json:"game_datetime"`
	Query        string    `json:"query"`
	Response     string    `json:"response"`
	HomeTeam     string    `json:"home_team"`
	AwayTeam     string    `json:"away_team"`
	OddsInfo     string    `json:"odds_info"`
	Timestamp    time.Time `json:"timestamp"`

	GameData json.RawMessage `json:"game_data,omitempty"`

	Reasoning   string `json:"reasoning,omitempty"`
	Probability *int   `json:"probability,omitempty"`
	Likelihood  string `json:"likelihood,omitempty"`
}

// Target identifies one result log file.
type Target struct {
	Day      string
	Model    string
	Forecast bool
	Path     string
}

// Store persists predictions as one JSON array per day, model and variant.
// Appends to the same file are serialised in-process; separate processes
// writing the same directory are not coordinated.
type Store struct {
	dir    string
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore roots a store at dataDir.
func NewStore(dataDir string, location *time.Location, logger zerolog.Logger) *Store {
	if location == nil {
		location = time.UTC
	}
	return &Store{
		dir:    filepath.Join(dataDir, predictionsDir),
		logger: logger.With().Str("component", "result_store").Logger(),
		now:    func() time.Time { return time.Now().In(location) },
		locks:  make(map[string]*sync.Mutex),
	}
}

// Path returns the file backing (day, model, forecast).
func (s *Store) Path(day, model string, forecast bool) string {
	name := FileModel(model)
	if forecast {
		name += forecastSuffix
	}
	return filepath.Join(s.dir, day, name+fileSuffix)
}

// Append adds rec to the end of the (day, model, forecast) log. The file is
// rewritten through a temporary file and rename, so a failed write leaves the
// previous contents intact.
func (s *Store) Append(ctx context.Context, day, model string, forecast bool, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	path := s.Path(day, model, forecast)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	records, err := readFile(path)
	if err != nil {
		return err
	}
	records = append(records, rec)

	if err := writeFile(path, records); err != nil {
		return err
	}

	s.logger.Debug().Str("path", path).Int("entries", len(records)).Msg("appended prediction")
	return nil
}

// Read returns every record of a log in append order.
func (s *Store) Read(day, model string, forecast bool) ([]Record, error) {
	path := s.Path(day, model, forecast)
	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()
	return readFile(path)
}

// Days lists the days with at least one log, oldest first.
func (s *Store) Days() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list result days: %w", err)
	}

	days := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			days = append(days, e.Name())
		}
	}
	sort.Strings(days)
	return days, nil
}

// Targets lists the logs written for day.
func (s *Store) Targets(day string) ([]Target, error) {
	dir := filepath.Join(s.dir, day)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list result targets: %w", err)
	}

	targets := make([]Target, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		model := strings.TrimSuffix(name, fileSuffix)
		forecast := strings.HasSuffix(model, forecastSuffix)
		model = strings.TrimSuffix(model, forecastSuffix)
		targets = append(targets, Target{Day: day, Model: model, Forecast: forecast, Path: filepath.Join(dir, name)})
	}
	return targets, nil
}

// FileModel makes a model name safe for use in a file name.
func FileModel(model string) string {
	return strings.ReplaceAll(model, "/", "_")
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

func readFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []Record{}, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return records, nil
}

func writeFile(path string, records []Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".predictions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
