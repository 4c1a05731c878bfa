package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tenderdesk/steptimer/internal/models"
	"github.com/tenderdesk/steptimer/internal/notify"
)

// SweepExpired scans RUNNING records of the entity type whose live elapsed
// time exceeds their budget and transitions them to EXPIRED. It is
// idempotent: a record already expired or completed by a concurrent actor is
// skipped, so running the sweep twice transitions each overdue record exactly
// once. Returns the number of records transitioned.
func (e *Engine) SweepExpired(ctx context.Context, entityType models.EntityType) (int, error) {
	now := e.clock.Now()
	// Every RUNNING segment started at or before now is a candidate; the
	// overdue check below uses the accumulated run time only the engine knows.
	records, err := e.store.ListRunningOlderThan(ctx, entityType, now)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range records {
		rec := &records[i]
		snap := Snapshot(rec, e.clock.Now())
		if !snap.IsOverdue {
			continue
		}

		expired, err := e.Expire(ctx, rec.EntityType, rec.EntityID, rec.StepKey)
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrConcurrentUpdate) {
			// lost the race to a concurrent complete or sweep
			slog.Debug("Engine.SweepExpired: record no longer expirable", "entityType", rec.EntityType, "entityID", rec.EntityID, "stepKey", rec.StepKey, "error", err)
			continue
		}
		if err != nil {
			slog.Error("Engine.SweepExpired: expire failed", "entityType", rec.EntityType, "entityID", rec.EntityID, "stepKey", rec.StepKey, "error", err)
			continue
		}
		count++
		e.notifyBreach(ctx, rec, expired)
	}

	if count > 0 {
		slog.Info("Engine.SweepExpired: expired timers", "entityType", entityType, "count", count)
	}
	return count, nil
}

// notifyBreach reports one expired record to the configured notifier.
// Delivery failures are logged and never fail the sweep.
func (e *Engine) notifyBreach(ctx context.Context, rec *models.StepTimerRecord, snap models.TimerSnapshot) {
	stepName := rec.StepKey
	if def, err := e.registry.Definition(rec.EntityType, rec.StepKey); err == nil {
		stepName = def.DisplayName
	}
	breach := notify.Breach{
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		StepKey:    rec.StepKey,
		StepName:   stepName,
		OverrunMs:  snap.ElapsedMs - rec.TotalAllocatedMs,
		ExpiredAt:  e.clock.Now(),
	}
	if err := e.notifier.NotifyBreach(ctx, breach); err != nil {
		slog.Error("Engine.notifyBreach: notification failed", "entityType", rec.EntityType, "entityID", rec.EntityID, "stepKey", rec.StepKey, "error", err)
	}
}
