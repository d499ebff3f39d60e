package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createPredictionsSQL = `CREATE TABLE IF NOT EXISTS predictions (
        id           TEXT PRIMARY KEY,
        day          DATE NOT NULL,
        model        TEXT NOT NULL,
        is_forecast  BOOLEAN NOT NULL,
        game_id      TEXT NOT NULL,
        game         TEXT NOT NULL,
        game_time    TIMESTAMPTZ NOT NULL,
        response     TEXT NOT NULL,
        odds_info    TEXT NOT NULL,
        reasoning    TEXT,
        probability  INTEGER,
        likelihood   TEXT,
        recorded_at  TIMESTAMPTZ NOT NULL,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createPredictionsIndexSQL = `CREATE INDEX IF NOT EXISTS predictions_day_model_idx ON predictions (day, model, is_forecast);`

	insertPredictionSQL = `INSERT INTO predictions (
        id,
        day,
        model,
        is_forecast,
        game_id,
        game,
        game_time,
        response,
        odds_info,
        reasoning,
        probability,
        likelihood,
        recorded_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    ON CONFLICT (id) DO NOTHING;`

	listRecentPredictionsSQL = `SELECT
        id,
        day::text,
        model,
        is_forecast,
        game_id,
        game,
        game_time,
        response,
        odds_info,
        reasoning,
        probability,
        likelihood,
        recorded_at,
        created_at
    FROM predictions
    ORDER BY recorded_at DESC
    LIMIT $1;`

	countPredictionsSQL = `SELECT COUNT(*) FROM predictions WHERE day = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PredictionStore defines operations for the prediction mirror.
type PredictionStore interface {
	InsertPrediction(ctx context.Context, row PredictionRow) error
	ListRecentPredictions(ctx context.Context, limit int) ([]PredictionRow, error)
	CountPredictions(ctx context.Context, day string) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store mirrors predictions into PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the predictions table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createPredictionsSQL, createPredictionsIndexSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertPrediction persists a prediction; replays of the same id are ignored.
func (s *Store) InsertPrediction(ctx context.Context, row PredictionRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	day, err := time.Parse(time.DateOnly, row.Day)
	if err != nil {
		return fmt.Errorf("parse prediction day: %w", err)
	}

	var probability interface{}
	if row.Probability != nil {
		probability = *row.Probability
	}

	_, execErr := pool.Exec(ctx, insertPredictionSQL,
		row.ID,
		day,
		row.Model,
		row.IsForecast,
		row.GameID,
		row.Game,
		row.GameTime,
		row.Response,
		row.OddsInfo,
		row.Reasoning,
		probability,
		row.Likelihood,
		row.RecordedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert prediction: %w", execErr)
	}
	return nil
}

// ListRecentPredictions lists the newest predictions first.
func (s *Store) ListRecentPredictions(ctx context.Context, limit int) ([]PredictionRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPredictionsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent predictions: %w", queryErr)
	}
	defer rows.Close()

	out := make([]PredictionRow, 0, limit)
	for rows.Next() {
		row, scanErr := scanPrediction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// CountPredictions counts mirrored predictions for a day.
func (s *Store) CountPredictions(ctx context.Context, day string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	date, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return 0, fmt.Errorf("parse prediction day: %w", err)
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPredictionsSQL, date).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count predictions: %w", scanErr)
	}
	return count, nil
}

func scanPrediction(rows pgx.Rows) (PredictionRow, error) {
	var (
		row         PredictionRow
		reasoning   sql.NullString
		probability sql.NullInt32
		likelihood  sql.NullString
	)

	if err := rows.Scan(
		&row.ID,
		&row.Day,
		&row.Model,
		&row.IsForecast,
		&row.GameID,
		&row.Game,
		&row.GameTime,
		&row.Response,
		&row.OddsInfo,
		&reasoning,
		&probability,
		&likelihood,
		&row.RecordedAt,
		&row.CreatedAt,
	); err != nil {
		return PredictionRow{}, err
	}

	if reasoning.Valid {
		value := reasoning.String
		row.Reasoning = &value
	}
	if probability.Valid {
		value := int(probability.Int32)
		row.Probability = &value
	}
	if likelihood.Valid {
		value := likelihood.String
		row.Likelihood = &value
	}
	return row, nil
}

var (
	_ PredictionStore = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
