// Package store provides durable storage backends for step timer records.
//
// It includes an in-memory store for tests and development, plus
// PostgreSQL and SQLite backed stores. All mutations go through
// compare-and-swap keyed by the record's version, which is how concurrent
// transitions on the same timer are linearized.
package store

import (
	"context"
	"time"

	"github.com/tenderdesk/steptimer/internal/models"
)

// TimerStore defines the persistence contract for step timer records.
//
// Get returns (nil, nil) when no record exists for the key; absence is a
// normal condition, never an error. Create and CompareAndSwap return
// models.ErrVersionConflict when they lose a race; the engine retries.
// Storage I/O failures are wrapped with models.ErrStoreUnavailable.
type TimerStore interface {
	// Get retrieves the record for (entityType, entityID, stepKey).
	Get(ctx context.Context, entityType models.EntityType, entityID, stepKey string) (*models.StepTimerRecord, error)

	// Create inserts a new record. The caller provides the full record
	// including Version (1 for a fresh timer). A record that already exists
	// for the key yields models.ErrVersionConflict.
	Create(ctx context.Context, record *models.StepTimerRecord) error

	// CompareAndSwap persists the record's current field values if and only
	// if the stored version equals expectedVersion, bumping the version by
	// one. On success the record's Version field is updated in place.
	CompareAndSwap(ctx context.Context, record *models.StepTimerRecord, expectedVersion int64) error

	// ListForEntity returns every record of one entity, in stable order.
	ListForEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.StepTimerRecord, error)

	// ListRunningOlderThan returns RUNNING records of the entity type whose
	// current run segment began at or before cutoff. Used by the expiry sweep.
	ListRunningOlderThan(ctx context.Context, entityType models.EntityType, cutoff time.Time) ([]models.StepTimerRecord, error)

	// Close releases any underlying resources.
	Close() error
}
