package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        estimator VARCHAR(20) NOT NULL,
        r2 REAL,
        rmse REAL,
        train_samples INTEGER,
        test_samples INTEGER,
        artifact_path TEXT,
        trained_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        request_id TEXT,
        features TEXT NOT NULL,
        predicted_expenses REAL NOT NULL,
        confidence REAL NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    `

// Store is the SQLite audit trail of training runs and served predictions.
type Store struct {
	db *sql.DB
}

// Open creates the database file and its parent directory if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type TrainingLog struct {
	Estimator    string    `json:"estimator"`
	R2           float64   `json:"r2"`
	RMSE         float64   `json:"rmse"`
	TrainSamples int       `json:"train_samples"`
	TestSamples  int       `json:"test_samples"`
	ArtifactPath string    `json:"artifact_path"`
	TrainedAt    time.Time `json:"trained_at"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, entry TrainingLog) error {
	if entry.Estimator == "" {
		return errors.New("estimator required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (
            estimator, r2, rmse, train_samples, test_samples, artifact_path, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)
    `,
		entry.Estimator,
		entry.R2,
		entry.RMSE,
		entry.TrainSamples,
		entry.TestSamples,
		entry.ArtifactPath,
		entry.TrainedAt.UTC(),
	)
	return err
}

// LoadTrainingLog returns runs newest first; limit <= 0 returns all of them.
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT estimator, r2, rmse, train_samples, test_samples, artifact_path, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var artifactPath sql.NullString
		if err := rows.Scan(&log.Estimator, &log.R2, &log.RMSE, &log.TrainSamples, &log.TestSamples, &artifactPath, &log.TrainedAt); err != nil {
			return nil, err
		}
		log.ArtifactPath = artifactPath.String
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type PredictionRecord struct {
	RequestID         string
	Features          []float64
	PredictedExpenses float64
	Confidence        float64
	CreatedAt         time.Time
}

func (s *Store) SavePrediction(ctx context.Context, record PredictionRecord) error {
	if len(record.Features) == 0 {
		return errors.New("features required")
	}
	features, err := json.Marshal(record.Features)
	if err != nil {
		return err
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO predictions (request_id, features, predicted_expenses, confidence, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, record.RequestID, string(features), record.PredictedExpenses, record.Confidence, record.CreatedAt.UTC())
	return err
}

