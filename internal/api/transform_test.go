package api

import (
	"testing"
	"time"

	"github.com/tenderdesk/steptimer/internal/models"
)

func TestBuildTimerViewWithoutTimer(t *testing.T) {
	def := models.WorkflowStepDefinition{
		EntityType:         models.EntityTypeTender,
		StepKey:            "tender_info",
		DisplayName:        "Info Sheet",
		DefaultAllocatedMs: 1000,
	}

	view := BuildTimerView(def, models.TimerSnapshot{HasTimer: false})
	if view.HasTimer {
		t.Error("expected hasTimer false")
	}
	if view.StepKey != "tender_info" || view.StepName != "Info Sheet" {
		t.Errorf("step identity must be filled in: %+v", view)
	}
	if view.RemainingSeconds != 0 || view.Status != "" || view.Deadline != nil || view.AllocatedHours != 0 {
		t.Errorf("timer fields must be zero without a timer: %+v", view)
	}
}

func TestBuildTimerViewUnitConversions(t *testing.T) {
	def := models.WorkflowStepDefinition{
		EntityType:  models.EntityTypeTender,
		StepKey:     "tender_info",
		DisplayName: "Info Sheet",
	}
	end := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	snap := models.TimerSnapshot{
		HasTimer:       true,
		Status:         models.TimerStatusRunning,
		AllocatedMs:    90 * 60 * 1000,
		ElapsedMs:      30 * 60 * 1000,
		RemainingMs:    60 * 60 * 1000,
		ScheduledEndAt: &end,
	}

	view := BuildTimerView(def, snap)
	if !view.HasTimer {
		t.Fatal("expected hasTimer true")
	}
	if view.RemainingSeconds != 3600 {
		t.Errorf("expected 3600 remaining seconds, got %d", view.RemainingSeconds)
	}
	if view.AllocatedHours != 1.5 {
		t.Errorf("expected 1.5 allocated hours, got %v", view.AllocatedHours)
	}
	if view.Status != "RUNNING" {
		t.Errorf("expected RUNNING, got %q", view.Status)
	}
	if view.Deadline == nil || !view.Deadline.Equal(end) {
		t.Errorf("expected deadline %v, got %v", end, view.Deadline)
	}
}

func TestBuildTimerViewTruncatesSubSecondRemainder(t *testing.T) {
	def := models.WorkflowStepDefinition{StepKey: "tq_raised", DisplayName: "Raised"}
	snap := models.TimerSnapshot{
		HasTimer:    true,
		Status:      models.TimerStatusRunning,
		AllocatedMs: 5000,
		RemainingMs: 1999,
	}
	if view := BuildTimerView(def, snap); view.RemainingSeconds != 1 {
		t.Errorf("expected 1 remaining second, got %d", view.RemainingSeconds)
	}
}
