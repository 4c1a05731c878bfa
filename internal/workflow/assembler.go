// Package workflow composes step definitions with live timer snapshots into
// whole-workflow views for multi-step dashboards.
package workflow

import (
	"context"
	"log/slog"

	"github.com/tenderdesk/steptimer/internal/clock"
	"github.com/tenderdesk/steptimer/internal/engine"
	"github.com/tenderdesk/steptimer/internal/models"
	"github.com/tenderdesk/steptimer/internal/registry"
	"github.com/tenderdesk/steptimer/internal/store"
)

// Assembler builds WorkflowStatus views for one entity at a time.
type Assembler struct {
	store    store.TimerStore
	registry *registry.Registry
	clock    clock.Clock
}

// NewAssembler creates an Assembler over the given store, registry and clock.
func NewAssembler(st store.TimerStore, reg *registry.Registry, clk clock.Clock) *Assembler {
	return &Assembler{store: st, registry: reg, clock: clk}
}

// StatusFor returns the ordered step list for one entity, each step paired
// with its current snapshot. Steps without a record surface as NOT_STARTED
// snapshots with HasTimer == false. An entity type with no registered steps
// yields an empty list, not an error.
func (a *Assembler) StatusFor(ctx context.Context, entityType models.EntityType, entityID string) (models.WorkflowStatus, error) {
	status := models.WorkflowStatus{
		EntityType: entityType,
		EntityID:   entityID,
		Steps:      []models.WorkflowStep{},
	}

	defs := a.registry.DefinitionsFor(entityType)
	if len(defs) == 0 {
		slog.Debug("Assembler.StatusFor: no steps registered", "entityType", entityType)
		return status, nil
	}

	records, err := a.store.ListForEntity(ctx, entityType, entityID)
	if err != nil {
		return models.WorkflowStatus{}, err
	}
	byKey := make(map[string]*models.StepTimerRecord, len(records))
	for i := range records {
		byKey[records[i].StepKey] = &records[i]
	}

	now := a.clock.Now()
	for _, def := range defs {
		status.Steps = append(status.Steps, models.WorkflowStep{
			Definition: def,
			Snapshot:   engine.Snapshot(byKey[def.StepKey], now),
		})
	}
	slog.Debug("Assembler.StatusFor: assembled workflow status", "entityType", entityType, "entityID", entityID, "steps", len(status.Steps))
	return status, nil
}

// CurrentStep returns the first step in sequence order whose snapshot is not
// COMPLETED, the step dashboards treat as "in progress". A step with no
// record yet still counts as current with status NOT_STARTED. ok is false
// when the entity type has no steps or every step is completed.
func (a *Assembler) CurrentStep(ctx context.Context, entityType models.EntityType, entityID string) (models.WorkflowStep, bool, error) {
	status, err := a.StatusFor(ctx, entityType, entityID)
	if err != nil {
		return models.WorkflowStep{}, false, err
	}
	for _, step := range status.Steps {
		if step.Snapshot.Status != models.TimerStatusCompleted {
			if !step.Snapshot.HasTimer {
				step.Snapshot.Status = models.TimerStatusNotStarted
			}
			return step, true, nil
		}
	}
	return models.WorkflowStep{}, false, nil
}
