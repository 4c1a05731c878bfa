// Package store provides durable storage backends for step timer records.
//
// This file implements the SQLite-backed timer store, the default for
// single-node deployments.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/mattn/go-sqlite3"
	"github.com/tenderdesk/steptimer/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements TimerStore.
var _ TimerStore = (*SQLiteStore)(nil)

// SQLiteStore persists step timer records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given options. The DSN
// is a file path; missing directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, entityType models.EntityType, entityID, stepKey string) (*models.StepTimerRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entity_type, entity_id, step_key, status, total_allocated_ms, started_at, last_resumed_at,
		        accumulated_run_ms, completed_at, version, created_at, updated_at
		 FROM step_timers WHERE entity_type = ? AND entity_id = ? AND step_key = ?`,
		string(entityType), entityID, stepKey,
	)
	rec, err := scanTimerRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore.Get failed", "error", err, "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
		return nil, fmt.Errorf("get step timer failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	return &rec, nil
}

func (s *SQLiteStore) Create(ctx context.Context, record *models.StepTimerRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_timers (entity_type, entity_id, step_key, status, total_allocated_ms, started_at,
		                          last_resumed_at, accumulated_run_ms, completed_at, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(record.EntityType), record.EntityID, record.StepKey, string(record.Status),
		record.TotalAllocatedMs, nullableTime(record.StartedAt), nullableTime(record.LastResumedAt),
		record.AccumulatedRunMs, nullableTime(record.CompletedAt), record.Version,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
			slog.Debug("SQLiteStore.Create: record already exists", "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey)
			return models.ErrVersionConflict
		}
		slog.Error("SQLiteStore.Create failed", "error", err, "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey)
		return fmt.Errorf("create step timer failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	slog.Debug("SQLiteStore.Create succeeded", "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey)
	return nil
}

func (s *SQLiteStore) CompareAndSwap(ctx context.Context, record *models.StepTimerRecord, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE step_timers
		 SET status = ?, total_allocated_ms = ?, started_at = ?, last_resumed_at = ?,
		     accumulated_run_ms = ?, completed_at = ?, version = version + 1, updated_at = ?
		 WHERE entity_type = ? AND entity_id = ? AND step_key = ? AND version = ?`,
		string(record.Status), record.TotalAllocatedMs, nullableTime(record.StartedAt), nullableTime(record.LastResumedAt),
		record.AccumulatedRunMs, nullableTime(record.CompletedAt), record.UpdatedAt,
		string(record.EntityType), record.EntityID, record.StepKey, expectedVersion,
	)
	if err != nil {
		slog.Error("SQLiteStore.CompareAndSwap failed", "error", err, "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey)
		return fmt.Errorf("compare-and-swap step timer failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("compare-and-swap rows affected failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore.CompareAndSwap: version conflict", "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey, "expectedVersion", expectedVersion)
		return models.ErrVersionConflict
	}
	record.Version = expectedVersion + 1
	slog.Debug("SQLiteStore.CompareAndSwap succeeded", "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey, "version", record.Version)
	return nil
}

func (s *SQLiteStore) ListForEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.StepTimerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, entity_id, step_key, status, total_allocated_ms, started_at, last_resumed_at,
		        accumulated_run_ms, completed_at, version, created_at, updated_at
		 FROM step_timers WHERE entity_type = ? AND entity_id = ? ORDER BY step_key`,
		string(entityType), entityID,
	)
	if err != nil {
		slog.Error("SQLiteStore.ListForEntity query failed", "error", err, "entityType", entityType, "entityID", entityID)
		return nil, fmt.Errorf("list entity timers failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return collectTimerRows(rows)
}

func (s *SQLiteStore) ListRunningOlderThan(ctx context.Context, entityType models.EntityType, cutoff time.Time) ([]models.StepTimerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, entity_id, step_key, status, total_allocated_ms, started_at, last_resumed_at,
		        accumulated_run_ms, completed_at, version, created_at, updated_at
		 FROM step_timers
		 WHERE entity_type = ? AND status = ? AND last_resumed_at <= ?
		 ORDER BY entity_id, step_key`,
		string(entityType), string(models.TimerStatusRunning), cutoff,
	)
	if err != nil {
		slog.Error("SQLiteStore.ListRunningOlderThan query failed", "error", err, "entityType", entityType)
		return nil, fmt.Errorf("list running timers failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return collectTimerRows(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
