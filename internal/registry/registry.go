// Package registry holds the process-wide table of workflow step definitions.
//
// The table is built once at startup from built-in defaults plus an optional
// JSON file, validated, and never mutated afterwards, so concurrent reads
// need no locking.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/tenderdesk/steptimer/internal/models"
)

type stepRef struct {
	entityType models.EntityType
	stepKey    string
}

// Registry maps (entityType, stepKey) to immutable step definitions.
type Registry struct {
	byType map[models.EntityType][]models.WorkflowStepDefinition
	byKey  map[stepRef]models.WorkflowStepDefinition
}

// New builds a Registry from the given definitions. It fails if any
// definition is invalid, if (entityType, stepKey) repeats, or if a
// sequenceIndex repeats within an entity type.
func New(defs []models.WorkflowStepDefinition) (*Registry, error) {
	r := &Registry{
		byType: make(map[models.EntityType][]models.WorkflowStepDefinition),
		byKey:  make(map[stepRef]models.WorkflowStepDefinition),
	}

	seenSeq := make(map[models.EntityType]map[int]string)
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("invalid step definition %s/%s: %w", def.EntityType, def.StepKey, err)
		}
		ref := stepRef{def.EntityType, def.StepKey}
		if _, exists := r.byKey[ref]; exists {
			return nil, fmt.Errorf("duplicate step definition %s/%s", def.EntityType, def.StepKey)
		}
		if seenSeq[def.EntityType] == nil {
			seenSeq[def.EntityType] = make(map[int]string)
		}
		if other, exists := seenSeq[def.EntityType][def.SequenceIndex]; exists {
			return nil, fmt.Errorf("duplicate sequence index %d for %s (%s and %s)",
				def.SequenceIndex, def.EntityType, other, def.StepKey)
		}
		seenSeq[def.EntityType][def.SequenceIndex] = def.StepKey

		r.byKey[ref] = def
		r.byType[def.EntityType] = append(r.byType[def.EntityType], def)
	}

	for et := range r.byType {
		steps := r.byType[et]
		sort.Slice(steps, func(i, j int) bool { return steps[i].SequenceIndex < steps[j].SequenceIndex })
	}

	slog.Debug("Registry.New: registry built", "entityTypes", len(r.byType), "steps", len(r.byKey))
	return r, nil
}

// DefinitionsFor returns the steps of the given entity type ordered by
// sequence index. The returned slice is a copy; callers may not mutate
// registry state through it. An unknown entity type yields an empty list.
func (r *Registry) DefinitionsFor(entityType models.EntityType) []models.WorkflowStepDefinition {
	steps := r.byType[entityType]
	out := make([]models.WorkflowStepDefinition, len(steps))
	copy(out, steps)
	return out
}

// Definition looks up a single step definition. A missing pair is a
// configuration error and surfaces models.ErrUnknownStep.
func (r *Registry) Definition(entityType models.EntityType, stepKey string) (models.WorkflowStepDefinition, error) {
	def, ok := r.byKey[stepRef{entityType, stepKey}]
	if !ok {
		slog.Error("Registry.Definition: unknown step referenced", "entityType", entityType, "stepKey", stepKey)
		return models.WorkflowStepDefinition{}, fmt.Errorf("%w: %s/%s", models.ErrUnknownStep, entityType, stepKey)
	}
	return def, nil
}

// EntityTypes returns the entity types with at least one registered step,
// in stable order.
func (r *Registry) EntityTypes() []models.EntityType {
	types := make([]models.EntityType, 0, len(r.byType))
	for et := range r.byType {
		types = append(types, et)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
