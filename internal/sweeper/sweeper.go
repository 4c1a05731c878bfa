// Package sweeper provides scheduled expiry sweeps for the step-timer engine.
//
// It runs the engine's SweepExpired on a cron cadence so that overdue RUNNING
// timers get a durable EXPIRED state for downstream consumers.
package sweeper

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/tenderdesk/steptimer/internal/engine"
	"github.com/tenderdesk/steptimer/internal/registry"
)

// DefaultCronExpr sweeps once a minute.
const DefaultCronExpr = "* * * * *"

// Sweeper runs periodic expiry sweeps over every registered entity type.
type Sweeper struct {
	engine   *engine.Engine
	registry *registry.Registry
	cron     *cron.Cron
}

// New creates a Sweeper. The cron scheduler is not started until Start.
func New(eng *engine.Engine, reg *registry.Registry) *Sweeper {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Sweeper{engine: eng, registry: reg, cron: c}
}

// Start schedules sweeps with the given cron expression and starts the
// scheduler. An empty expression falls back to DefaultCronExpr.
func (s *Sweeper) Start(expr string) error {
	if expr == "" {
		expr = DefaultCronExpr
	}
	if _, err := s.cron.AddFunc(expr, func() { s.SweepAll(context.Background()) }); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("Sweeper.Start: expiry sweep scheduled", "cron", expr)
	return nil
}

// SweepAll runs one sweep over every entity type in the registry and returns
// the total number of timers expired.
func (s *Sweeper) SweepAll(ctx context.Context) int {
	total := 0
	for _, entityType := range s.registry.EntityTypes() {
		count, err := s.engine.SweepExpired(ctx, entityType)
		if err != nil {
			slog.Error("Sweeper.SweepAll: sweep failed", "entityType", entityType, "error", err)
			continue
		}
		total += count
	}
	slog.Debug("Sweeper.SweepAll: sweep finished", "expired", total)
	return total
}

// Stop stops the cron scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Sweeper.Stop: expiry sweep stopped")
}
