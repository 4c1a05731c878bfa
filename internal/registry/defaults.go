package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/tenderdesk/steptimer/internal/models"
)

// SLA durations for the built-in step table, in milliseconds.
const (
	hourMs = int64(60 * 60 * 1000)
	dayMs  = 24 * hourMs
)

// Defaults returns the built-in step table for tenders and technical queries.
// Deployments override or extend it with a JSON definitions file.
func Defaults() []models.WorkflowStepDefinition {
	return []models.WorkflowStepDefinition{
		{EntityType: models.EntityTypeTender, StepKey: "tender_info", DisplayName: "Info Sheet", DefaultAllocatedMs: 2 * dayMs, SequenceIndex: 0},
		{EntityType: models.EntityTypeTender, StepKey: "tender_checklist", DisplayName: "Document Checklist", DefaultAllocatedMs: 3 * dayMs, SequenceIndex: 1},
		{EntityType: models.EntityTypeTender, StepKey: "tender_approval", DisplayName: "Approval", DefaultAllocatedMs: dayMs, SequenceIndex: 2},
		{EntityType: models.EntityTypeTender, StepKey: "tender_award", DisplayName: "Award", DefaultAllocatedMs: 2 * dayMs, SequenceIndex: 3},

		{EntityType: models.EntityTypeTQ, StepKey: "tq_raised", DisplayName: "Raised", DefaultAllocatedMs: dayMs, SequenceIndex: 0},
		{EntityType: models.EntityTypeTQ, StepKey: "tq_replied", DisplayName: "Replied", DefaultAllocatedMs: 2 * dayMs, SequenceIndex: 1},
		{EntityType: models.EntityTypeTQ, StepKey: "tq_closed", DisplayName: "Closed", DefaultAllocatedMs: dayMs, SequenceIndex: 2},
	}
}

// LoadFile reads step definitions from a JSON file. The file holds an array
// of WorkflowStepDefinition objects and fully replaces the built-in table.
func LoadFile(path string) ([]models.WorkflowStepDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read step definitions file: %w", err)
	}
	var defs []models.WorkflowStepDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse step definitions file: %w", err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("step definitions file %s contains no definitions", path)
	}
	slog.Info("registry.LoadFile: loaded step definitions", "path", path, "count", len(defs))
	return defs, nil
}
