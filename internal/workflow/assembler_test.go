package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/tenderdesk/steptimer/internal/clock"
	"github.com/tenderdesk/steptimer/internal/engine"
	"github.com/tenderdesk/steptimer/internal/models"
	"github.com/tenderdesk/steptimer/internal/registry"
	"github.com/tenderdesk/steptimer/internal/store"
)

func newTestAssembler(t *testing.T) (*Assembler, *engine.Engine, *clock.FakeClock) {
	t.Helper()
	reg, err := registry.New(registry.Defaults())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	st := store.NewInMemoryStore()
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewAssembler(st, reg, clk), engine.NewEngine(st, reg, clk), clk
}

func TestStatusForOrdersStepsBySequence(t *testing.T) {
	asm, eng, clk := newTestAssembler(t)
	ctx := context.Background()

	// start the second step only; the rest have no records
	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_checklist", 60_000); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(10 * time.Second)

	status, err := asm.StatusFor(ctx, models.EntityTypeTender, "7")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.EntityType != models.EntityTypeTender || status.EntityID != "7" {
		t.Errorf("wrong identity: %+v", status)
	}
	if len(status.Steps) != 4 {
		t.Fatalf("expected 4 tender steps, got %d", len(status.Steps))
	}

	wantOrder := []string{"tender_info", "tender_checklist", "tender_approval", "tender_award"}
	for i, want := range wantOrder {
		if status.Steps[i].Definition.StepKey != want {
			t.Errorf("position %d: expected %q, got %q", i, want, status.Steps[i].Definition.StepKey)
		}
	}

	if status.Steps[0].Snapshot.HasTimer {
		t.Error("never-started step must have has_timer false")
	}
	second := status.Steps[1].Snapshot
	if !second.HasTimer || second.Status != models.TimerStatusRunning {
		t.Errorf("started step misreported: %+v", second)
	}
	if second.ElapsedMs != 10_000 {
		t.Errorf("expected elapsed 10000, got %d", second.ElapsedMs)
	}
}

func TestStatusForUnknownEntityTypeIsEmpty(t *testing.T) {
	asm, _, _ := newTestAssembler(t)

	status, err := asm.StatusFor(context.Background(), "MYSTERY", "7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Steps == nil {
		t.Error("expected empty slice, not nil, for JSON rendering")
	}
	if len(status.Steps) != 0 {
		t.Errorf("expected no steps, got %d", len(status.Steps))
	}
}

func TestCurrentStepSkipsCompletedSteps(t *testing.T) {
	asm, eng, clk := newTestAssembler(t)
	ctx := context.Background()

	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 60_000); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := eng.Complete(ctx, models.EntityTypeTender, "7", "tender_info"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	step, ok, err := asm.CurrentStep(ctx, models.EntityTypeTender, "7")
	if err != nil {
		t.Fatalf("current step: %v", err)
	}
	if !ok {
		t.Fatal("expected a current step")
	}
	if step.Definition.StepKey != "tender_checklist" {
		t.Errorf("expected tender_checklist to be current, got %s", step.Definition.StepKey)
	}
	if step.Snapshot.Status != models.TimerStatusNotStarted {
		t.Errorf("never-started current step must display NOT_STARTED, got %s", step.Snapshot.Status)
	}
}

func TestCurrentStepAllCompleted(t *testing.T) {
	asm, eng, clk := newTestAssembler(t)
	ctx := context.Background()

	for _, key := range []string{"tq_raised", "tq_replied", "tq_closed"} {
		if _, err := eng.Start(ctx, models.EntityTypeTQ, "9", key, 60_000); err != nil {
			t.Fatalf("start %s: %v", key, err)
		}
		clk.Advance(time.Second)
		if _, err := eng.Complete(ctx, models.EntityTypeTQ, "9", key); err != nil {
			t.Fatalf("complete %s: %v", key, err)
		}
	}

	_, ok, err := asm.CurrentStep(ctx, models.EntityTypeTQ, "9")
	if err != nil {
		t.Fatalf("current step: %v", err)
	}
	if ok {
		t.Error("expected no current step when every step is completed")
	}
}

func TestCurrentStepExpiredStepStaysCurrent(t *testing.T) {
	asm, eng, clk := newTestAssembler(t)
	ctx := context.Background()

	if _, err := eng.Start(ctx, models.EntityTypeTQ, "9", "tq_raised", 1000); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := eng.SweepExpired(ctx, models.EntityTypeTQ); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	step, ok, err := asm.CurrentStep(ctx, models.EntityTypeTQ, "9")
	if err != nil {
		t.Fatalf("current step: %v", err)
	}
	if !ok {
		t.Fatal("expected a current step")
	}
	if step.Definition.StepKey != "tq_raised" || step.Snapshot.Status != models.TimerStatusExpired {
		t.Errorf("expired step must remain current: %+v", step)
	}
}
