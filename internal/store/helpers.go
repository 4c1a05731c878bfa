package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tenderdesk/steptimer/internal/models"
)

// nullableTime returns nil for a nil time pointer, otherwise the dereferenced
// value. Used for nullable timestamp columns.
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTimerRow scans a StepTimerRecord from a single row.
func scanTimerRow(row rowScanner) (models.StepTimerRecord, error) {
	var rec models.StepTimerRecord
	var entityType, status string
	var startedAt, lastResumedAt, completedAt sql.NullTime
	err := row.Scan(
		&entityType, &rec.EntityID, &rec.StepKey, &status, &rec.TotalAllocatedMs,
		&startedAt, &lastResumedAt, &rec.AccumulatedRunMs, &completedAt,
		&rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.EntityType = models.EntityType(entityType)
	rec.Status = models.TimerStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		rec.StartedAt = &t
	}
	if lastResumedAt.Valid {
		t := lastResumedAt.Time
		rec.LastResumedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

// collectTimerRows drains a result set into a record slice.
func collectTimerRows(rows *sql.Rows) ([]models.StepTimerRecord, error) {
	var records []models.StepTimerRecord
	for rows.Next() {
		rec, err := scanTimerRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step timer failed: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("step timer rows iteration failed: %w: %w", models.ErrStoreUnavailable, err)
	}
	return records, nil
}
