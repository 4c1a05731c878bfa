package engine

import (
	"time"

	"github.com/tenderdesk/steptimer/internal/models"
)

// Snapshot computes the live view of a timer record at the given instant.
// It is pure: a nil record yields HasTimer == false, and a RUNNING record
// past its budget is reported overdue without being transitioned. Durable
// expiry is the sweep's job, so reads never mutate state.
func Snapshot(record *models.StepTimerRecord, now time.Time) models.TimerSnapshot {
	if record == nil {
		return models.TimerSnapshot{HasTimer: false}
	}

	snap := models.TimerSnapshot{
		HasTimer:    true,
		Status:      record.Status,
		AllocatedMs: record.TotalAllocatedMs,
	}

	elapsed := record.AccumulatedRunMs
	if record.Status == models.TimerStatusRunning && record.LastResumedAt != nil {
		elapsed += now.Sub(*record.LastResumedAt).Milliseconds()
	}
	snap.ElapsedMs = elapsed

	remaining := record.TotalAllocatedMs - elapsed
	if remaining < 0 {
		remaining = 0
	}
	snap.RemainingMs = remaining
	snap.IsOverdue = elapsed > record.TotalAllocatedMs

	switch {
	case record.Status == models.TimerStatusRunning && record.LastResumedAt != nil:
		// the budget not yet burned, counted from the open segment's start
		end := record.LastResumedAt.Add(time.Duration(record.TotalAllocatedMs-record.AccumulatedRunMs) * time.Millisecond)
		snap.ScheduledEndAt = &end
	case record.StartedAt != nil:
		end := record.StartedAt.Add(time.Duration(record.TotalAllocatedMs) * time.Millisecond)
		snap.ScheduledEndAt = &end
	}

	return snap
}
