// Package engine implements the step-timer state machine.
//
// Every transition is a read-compute-compare-and-swap cycle against the
// timer store; reads combine the durable record with the injected clock and
// never mutate anything.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenderdesk/steptimer/internal/clock"
	"github.com/tenderdesk/steptimer/internal/models"
	"github.com/tenderdesk/steptimer/internal/notify"
	"github.com/tenderdesk/steptimer/internal/registry"
	"github.com/tenderdesk/steptimer/internal/store"
)

// DefaultTransitionAttempts bounds optimistic-concurrency retries per
// transition. Collisions only happen when two operators act on the same step
// at the same instant, so the bound is small.
const DefaultTransitionAttempts = 3

// Engine drives step timer transitions and computes live snapshots.
type Engine struct {
	store    store.TimerStore
	registry *registry.Registry
	clock    clock.Clock
	notifier notify.Notifier
	attempts int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotifier sets the breach notification channel used by the expiry sweep.
func WithNotifier(n notify.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithTransitionAttempts overrides the optimistic-concurrency retry bound.
func WithTransitionAttempts(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.attempts = n
		}
	}
}

// NewEngine creates an Engine over the given store, registry and clock.
func NewEngine(st store.TimerStore, reg *registry.Registry, clk clock.Clock, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    st,
		registry: reg,
		clock:    clk,
		notifier: notify.NewNoopNotifier(),
		attempts: DefaultTransitionAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins the SLA clock for a step, creating the durable record lazily
// on first use. allocatedMsOverride <= 0 means "use the definition default".
func (e *Engine) Start(ctx context.Context, entityType models.EntityType, entityID, stepKey string, allocatedMsOverride int64) (models.TimerSnapshot, error) {
	def, err := e.registry.Definition(entityType, stepKey)
	if err != nil {
		return models.TimerSnapshot{}, err
	}
	allocated := def.DefaultAllocatedMs
	if allocatedMsOverride > 0 {
		allocated = allocatedMsOverride
	}

	for attempt := 0; attempt < e.attempts; attempt++ {
		rec, err := e.store.Get(ctx, entityType, entityID, stepKey)
		if err != nil {
			return models.TimerSnapshot{}, err
		}
		now := e.clock.Now()

		if rec == nil {
			fresh := &models.StepTimerRecord{
				EntityType:       entityType,
				EntityID:         entityID,
				StepKey:          stepKey,
				Status:           models.TimerStatusRunning,
				TotalAllocatedMs: allocated,
				StartedAt:        &now,
				LastResumedAt:    &now,
				AccumulatedRunMs: 0,
				Version:          1,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			err = e.store.Create(ctx, fresh)
			if errors.Is(err, models.ErrVersionConflict) {
				slog.Debug("Engine.Start: create lost race, retrying", "entityType", entityType, "entityID", entityID, "stepKey", stepKey, "attempt", attempt)
				continue
			}
			if err != nil {
				return models.TimerSnapshot{}, err
			}
			slog.Info("Engine.Start: timer started", "entityType", entityType, "entityID", entityID, "stepKey", stepKey, "allocatedMs", allocated)
			return Snapshot(fresh, now), nil
		}

		if rec.Status != models.TimerStatusNotStarted {
			return models.TimerSnapshot{}, fmt.Errorf("%w: cannot start %s/%s/%s in state %s",
				models.ErrInvalidTransition, entityType, entityID, stepKey, rec.Status)
		}

		next := *rec
		next.Status = models.TimerStatusRunning
		next.TotalAllocatedMs = allocated
		next.StartedAt = &now
		next.LastResumedAt = &now
		next.AccumulatedRunMs = 0
		next.UpdatedAt = now

		err = e.store.CompareAndSwap(ctx, &next, rec.Version)
		if errors.Is(err, models.ErrVersionConflict) {
			slog.Debug("Engine.Start: swap lost race, retrying", "entityType", entityType, "entityID", entityID, "stepKey", stepKey, "attempt", attempt)
			continue
		}
		if err != nil {
			return models.TimerSnapshot{}, err
		}
		slog.Info("Engine.Start: timer started", "entityType", entityType, "entityID", entityID, "stepKey", stepKey, "allocatedMs", allocated)
		return Snapshot(&next, now), nil
	}

	slog.Warn("Engine.Start: transition attempts exhausted", "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
	return models.TimerSnapshot{}, fmt.Errorf("%w: start %s/%s/%s", models.ErrConcurrentUpdate, entityType, entityID, stepKey)
}

// Pause stops a RUNNING clock, folding the open run segment into the
// accumulated total.
func (e *Engine) Pause(ctx context.Context, entityType models.EntityType, entityID, stepKey string) (models.TimerSnapshot, error) {
	return e.transition(ctx, entityType, entityID, stepKey, "pause", func(rec *models.StepTimerRecord, now time.Time) error {
		if rec.Status != models.TimerStatusRunning {
			return fmt.Errorf("%w: cannot pause %s/%s/%s in state %s",
				models.ErrInvalidTransition, rec.EntityType, rec.EntityID, rec.StepKey, rec.Status)
		}
		rec.AccumulatedRunMs += now.Sub(*rec.LastResumedAt).Milliseconds()
		rec.LastResumedAt = nil
		rec.Status = models.TimerStatusPaused
		return nil
	})
}

// Resume restarts a PAUSED clock.
func (e *Engine) Resume(ctx context.Context, entityType models.EntityType, entityID, stepKey string) (models.TimerSnapshot, error) {
	return e.transition(ctx, entityType, entityID, stepKey, "resume", func(rec *models.StepTimerRecord, now time.Time) error {
		if rec.Status != models.TimerStatusPaused {
			return fmt.Errorf("%w: cannot resume %s/%s/%s in state %s",
				models.ErrInvalidTransition, rec.EntityType, rec.EntityID, rec.StepKey, rec.Status)
		}
		resumed := now
		rec.LastResumedAt = &resumed
		rec.Status = models.TimerStatusRunning
		return nil
	})
}

// Complete finishes the step from RUNNING or PAUSED.
func (e *Engine) Complete(ctx context.Context, entityType models.EntityType, entityID, stepKey string) (models.TimerSnapshot, error) {
	return e.transition(ctx, entityType, entityID, stepKey, "complete", func(rec *models.StepTimerRecord, now time.Time) error {
		switch rec.Status {
		case models.TimerStatusRunning:
			rec.AccumulatedRunMs += now.Sub(*rec.LastResumedAt).Milliseconds()
			rec.LastResumedAt = nil
		case models.TimerStatusPaused:
			// no open run segment to fold in
		default:
			return fmt.Errorf("%w: cannot complete %s/%s/%s in state %s",
				models.ErrInvalidTransition, rec.EntityType, rec.EntityID, rec.StepKey, rec.Status)
		}
		completed := now
		rec.CompletedAt = &completed
		rec.Status = models.TimerStatusCompleted
		return nil
	})
}

// Expire transitions a RUNNING record to EXPIRED with the same run-time
// accounting as Complete. Normally invoked by the expiry sweep.
func (e *Engine) Expire(ctx context.Context, entityType models.EntityType, entityID, stepKey string) (models.TimerSnapshot, error) {
	return e.transition(ctx, entityType, entityID, stepKey, "expire", func(rec *models.StepTimerRecord, now time.Time) error {
		if rec.Status != models.TimerStatusRunning {
			return fmt.Errorf("%w: cannot expire %s/%s/%s in state %s",
				models.ErrInvalidTransition, rec.EntityType, rec.EntityID, rec.StepKey, rec.Status)
		}
		rec.AccumulatedRunMs += now.Sub(*rec.LastResumedAt).Milliseconds()
		rec.LastResumedAt = nil
		rec.Status = models.TimerStatusExpired
		return nil
	})
}

// GetSnapshot returns the live snapshot for a step. A step that was never
// started yields HasTimer == false, not an error.
func (e *Engine) GetSnapshot(ctx context.Context, entityType models.EntityType, entityID, stepKey string) (models.TimerSnapshot, error) {
	if _, err := e.registry.Definition(entityType, stepKey); err != nil {
		return models.TimerSnapshot{}, err
	}
	rec, err := e.store.Get(ctx, entityType, entityID, stepKey)
	if err != nil {
		return models.TimerSnapshot{}, err
	}
	return Snapshot(rec, e.clock.Now()), nil
}

// transition runs one read-compute-swap cycle with bounded retry. apply
// mutates the record copy in place; returning an error aborts without
// retrying (business-rule violations are not retried).
func (e *Engine) transition(ctx context.Context, entityType models.EntityType, entityID, stepKey, op string, apply func(rec *models.StepTimerRecord, now time.Time) error) (models.TimerSnapshot, error) {
	if _, err := e.registry.Definition(entityType, stepKey); err != nil {
		return models.TimerSnapshot{}, err
	}

	for attempt := 0; attempt < e.attempts; attempt++ {
		rec, err := e.store.Get(ctx, entityType, entityID, stepKey)
		if err != nil {
			return models.TimerSnapshot{}, err
		}
		if rec == nil {
			return models.TimerSnapshot{}, fmt.Errorf("%w: cannot %s %s/%s/%s: timer not started",
				models.ErrInvalidTransition, op, entityType, entityID, stepKey)
		}

		now := e.clock.Now()
		next := *rec
		if err := apply(&next, now); err != nil {
			slog.Warn("Engine.transition: invalid transition", "op", op, "entityType", entityType, "entityID", entityID, "stepKey", stepKey, "state", rec.Status)
			return models.TimerSnapshot{}, err
		}
		next.UpdatedAt = now

		err = e.store.CompareAndSwap(ctx, &next, rec.Version)
		if errors.Is(err, models.ErrVersionConflict) {
			slog.Debug("Engine.transition: swap lost race, retrying", "op", op, "entityType", entityType, "entityID", entityID, "stepKey", stepKey, "attempt", attempt)
			continue
		}
		if err != nil {
			return models.TimerSnapshot{}, err
		}
		slog.Info("Engine.transition: transition applied", "op", op, "entityType", entityType, "entityID", entityID, "stepKey", stepKey, "status", next.Status, "version", next.Version)
		return Snapshot(&next, now), nil
	}

	slog.Warn("Engine.transition: transition attempts exhausted", "op", op, "entityType", entityType, "entityID", entityID, "stepKey", stepKey)
	return models.TimerSnapshot{}, fmt.Errorf("%w: %s %s/%s/%s", models.ErrConcurrentUpdate, op, entityType, entityID, stepKey)
}
