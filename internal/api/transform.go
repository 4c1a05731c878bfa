package api

import (
	"time"

	"github.com/tenderdesk/steptimer/internal/models"
)

// TimerView is the small DTO consumed by the dashboard UI. Field names match
// what the frontend already binds to.
type TimerView struct {
	HasTimer         bool       `json:"hasTimer"`
	StepKey          string     `json:"stepKey"`
	StepName         string     `json:"stepName"`
	RemainingSeconds int64      `json:"remainingSeconds"`
	Status           string     `json:"status,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	AllocatedHours   float64    `json:"allocatedHours"`
}

// BuildTimerView maps a snapshot onto the frontend DTO. It is pure and
// stateless; a snapshot without a timer yields hasTimer == false with only
// the step identity filled in.
func BuildTimerView(def models.WorkflowStepDefinition, snap models.TimerSnapshot) TimerView {
	view := TimerView{
		HasTimer: snap.HasTimer,
		StepKey:  def.StepKey,
		StepName: def.DisplayName,
	}
	if !snap.HasTimer {
		return view
	}
	view.RemainingSeconds = snap.RemainingMs / 1000
	view.Status = string(snap.Status)
	view.Deadline = snap.ScheduledEndAt
	view.AllocatedHours = float64(snap.AllocatedMs) / float64(time.Hour/time.Millisecond)
	return view
}
