// Package notify delivers SLA-breach notifications when a step timer
// transitions to EXPIRED.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenderdesk/steptimer/internal/models"
)

// Breach describes one SLA breach for downstream delivery.
type Breach struct {
	EntityType models.EntityType
	EntityID   string
	StepKey    string
	StepName   string
	OverrunMs  int64
	ExpiredAt  time.Time
}

// Message renders the human-readable notification text for the breach.
func (b Breach) Message() string {
	overrun := time.Duration(b.OverrunMs) * time.Millisecond
	return fmt.Sprintf("SLA breached: %s %s step %q overdue by %s", b.EntityType, b.EntityID, b.StepName, overrun.Round(time.Second))
}

// Notifier is a pluggable delivery channel for breach notifications.
// Implementations must not block the expiry sweep for long; failures are
// logged by the caller and never abort the sweep.
type Notifier interface {
	NotifyBreach(ctx context.Context, breach Breach) error
}

// NoopNotifier discards breach notifications. Used when no channel is
// configured.
type NoopNotifier struct{}

// NewNoopNotifier creates a NoopNotifier.
func NewNoopNotifier() *NoopNotifier {
	return &NoopNotifier{}
}

// NotifyBreach logs and discards the breach.
func (n *NoopNotifier) NotifyBreach(ctx context.Context, breach Breach) error {
	slog.Debug("NoopNotifier.NotifyBreach: discarding breach notification",
		"entityType", breach.EntityType, "entityID", breach.EntityID, "stepKey", breach.StepKey)
	return nil
}
