//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"plumetrack/internal/config"
	"plumetrack/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRunConfig(ctx context.Context, runID string, cfg config.Config) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO run_configs (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetRunConfig(ctx context.Context, runID string) (config.Config, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return config.Config{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM run_configs WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return config.Config{}, false, nil
		}
		return config.Config{}, false, err
	}

	var cfg config.Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return config.Config{}, false, fmt.Errorf("decode run config %s: %w", runID, err)
	}
	return cfg, true, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT run_id FROM run_configs ORDER BY run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, err
		}
		runs = append(runs, runID)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, checkpoint model.PolicyCheckpoint) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, iteration, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, iteration) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, checkpoint.RunID, checkpoint.Iteration, checkpoint.SchemaVersion, checkpoint.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, runID string, iteration int) (model.PolicyCheckpoint, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.PolicyCheckpoint{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE run_id = ? AND iteration = ?`,
		runID, iteration).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PolicyCheckpoint{}, false, nil
		}
		return model.PolicyCheckpoint{}, false, err
	}

	cp, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.PolicyCheckpoint{}, false, fmt.Errorf("decode checkpoint %s@%d: %w", runID, iteration, err)
	}
	return cp, true, nil
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, runID string) (model.PolicyCheckpoint, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.PolicyCheckpoint{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx,
		`SELECT payload FROM checkpoints WHERE run_id = ? ORDER BY iteration DESC LIMIT 1`,
		runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PolicyCheckpoint{}, false, nil
		}
		return model.PolicyCheckpoint{}, false, err
	}

	cp, err := DecodeCheckpoint(payload)
	if err != nil {
		return model.PolicyCheckpoint{}, false, fmt.Errorf("decode latest checkpoint %s: %w", runID, err)
	}
	return cp, true, nil
}

func (s *SQLiteStore) SaveTrainingHistory(ctx context.Context, runID string, history []model.TrainingRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeTrainingHistory(history)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO training_history (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetTrainingHistory(ctx context.Context, runID string) ([]model.TrainingRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM training_history WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	history, err := DecodeTrainingHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode training history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *SQLiteStore) SaveEvalReports(ctx context.Context, runID string, reports []model.EvalReport) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeEvalReports(reports)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO eval_reports (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetEvalReports(ctx context.Context, runID string) ([]model.EvalReport, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM eval_reports WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	reports, err := DecodeEvalReports(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode eval reports %s: %w", runID, err)
	}
	return reports, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_configs (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, iteration)
		);
		CREATE TABLE IF NOT EXISTS training_history (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS eval_reports (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
