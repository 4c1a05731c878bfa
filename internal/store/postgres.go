// Package store provides durable storage backends for step timer records.
//
// This file implements the PostgreSQL-backed timer store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/lib/pq"
	"github.com/tenderdesk/steptimer/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// pqUniqueViolation is the Postgres error code for unique constraint violations.
const pqUniqueViolation = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements TimerStore.
var _ TimerStore = (*PostgresStore)(nil)

// PostgresStore persists step timer records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure the step_timers table exists
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, entityType models.EntityType, entityID, stepKey string) (*models.StepTimerRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entity_type, entity_id, step_key, status, total_allocated_ms, started_at, last_resumed_at,
		        accumulated_run_ms, completed_at, version, created_at, updated_at
		 FROM step_timers WHERE entity_type = $1 AND entity_id = $2 AND step_key = $3`,
		string(entityType), entityID, stepKey,
	)
	rec, err := scanTimerRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore.Get failed", "error", err, "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
		return nil, fmt.Errorf("get step timer failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	return &rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, record *models.StepTimerRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_timers (entity_type, entity_id, step_key, status, total_allocated_ms, started_at,
		                          last_resumed_at, accumulated_run_ms, completed_at, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		string(record.EntityType), record.EntityID, record.StepKey, string(record.Status),
		record.TotalAllocatedMs, nullableTime(record.StartedAt), nullableTime(record.LastResumedAt),
		record.AccumulatedRunMs, nullableTime(record.CompletedAt), record.Version,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
			slog.Debug("PostgresStore.Create: record already exists", "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey)
			return models.ErrVersionConflict
		}
		slog.Error("PostgresStore.Create failed", "error", err, "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey)
		return fmt.Errorf("create step timer failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	slog.Debug("PostgresStore.Create succeeded", "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey)
	return nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, record *models.StepTimerRecord, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE step_timers
		 SET status = $1, total_allocated_ms = $2, started_at = $3, last_resumed_at = $4,
		     accumulated_run_ms = $5, completed_at = $6, version = version + 1, updated_at = $7
		 WHERE entity_type = $8 AND entity_id = $9 AND step_key = $10 AND version = $11`,
		string(record.Status), record.TotalAllocatedMs, nullableTime(record.StartedAt), nullableTime(record.LastResumedAt),
		record.AccumulatedRunMs, nullableTime(record.CompletedAt), record.UpdatedAt,
		string(record.EntityType), record.EntityID, record.StepKey, expectedVersion,
	)
	if err != nil {
		slog.Error("PostgresStore.CompareAndSwap failed", "error", err, "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey)
		return fmt.Errorf("compare-and-swap step timer failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("compare-and-swap rows affected failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	if n == 0 {
		slog.Debug("PostgresStore.CompareAndSwap: version conflict", "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey, "expectedVersion", expectedVersion)
		return models.ErrVersionConflict
	}
	record.Version = expectedVersion + 1
	slog.Debug("PostgresStore.CompareAndSwap succeeded", "entityType", record.EntityType, "entityID", record.EntityID, "stepKey", record.StepKey, "version", record.Version)
	return nil
}

func (s *PostgresStore) ListForEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.StepTimerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, entity_id, step_key, status, total_allocated_ms, started_at, last_resumed_at,
		        accumulated_run_ms, completed_at, version, created_at, updated_at
		 FROM step_timers WHERE entity_type = $1 AND entity_id = $2 ORDER BY step_key`,
		string(entityType), entityID,
	)
	if err != nil {
		slog.Error("PostgresStore.ListForEntity query failed", "error", err, "entityType", entityType, "entityID", entityID)
		return nil, fmt.Errorf("list entity timers failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return collectTimerRows(rows)
}

func (s *PostgresStore) ListRunningOlderThan(ctx context.Context, entityType models.EntityType, cutoff time.Time) ([]models.StepTimerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_type, entity_id, step_key, status, total_allocated_ms, started_at, last_resumed_at,
		        accumulated_run_ms, completed_at, version, created_at, updated_at
		 FROM step_timers
		 WHERE entity_type = $1 AND status = $2 AND last_resumed_at <= $3
		 ORDER BY entity_id, step_key`,
		string(entityType), string(models.TimerStatusRunning), cutoff,
	)
	if err != nil {
		slog.Error("PostgresStore.ListRunningOlderThan query failed", "error", err, "entityType", entityType)
		return nil, fmt.Errorf("list running timers failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	return collectTimerRows(rows)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
