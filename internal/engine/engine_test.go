package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tenderdesk/steptimer/internal/clock"
	"github.com/tenderdesk/steptimer/internal/models"
	"github.com/tenderdesk/steptimer/internal/registry"
	"github.com/tenderdesk/steptimer/internal/store"
)

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *store.InMemoryStore, *clock.FakeClock) {
	t.Helper()
	reg, err := registry.New(registry.Defaults())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	st := store.NewInMemoryStore()
	clk := clock.NewFakeClock(testStart)
	return NewEngine(st, reg, clk, opts...), st, clk
}

func mustGet(t *testing.T, st store.TimerStore, entityType models.EntityType, entityID, stepKey string) *models.StepTimerRecord {
	t.Helper()
	rec, err := st.Get(context.Background(), entityType, entityID, stepKey)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record for %s/%s/%s", entityType, entityID, stepKey)
	}
	return rec
}

func TestStartCreatesRunningTimer(t *testing.T) {
	eng, st, clk := newTestEngine(t)
	ctx := context.Background()

	snap, err := eng.Start(ctx, models.EntityTypeTQ, "42", "tq_replied", 3_600_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != models.TimerStatusRunning {
		t.Errorf("expected RUNNING, got %s", snap.Status)
	}
	if snap.RemainingMs != 3_600_000 {
		t.Errorf("expected remaining 3600000, got %d", snap.RemainingMs)
	}

	clk.Advance(1_800_000 * time.Millisecond)
	snap, err = eng.GetSnapshot(ctx, models.EntityTypeTQ, "42", "tq_replied")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != models.TimerStatusRunning {
		t.Errorf("expected RUNNING, got %s", snap.Status)
	}
	if snap.RemainingMs != 1_800_000 {
		t.Errorf("expected remaining 1800000, got %d", snap.RemainingMs)
	}
	if snap.ElapsedMs != 1_800_000 {
		t.Errorf("expected elapsed 1800000, got %d", snap.ElapsedMs)
	}

	rec := mustGet(t, st, models.EntityTypeTQ, "42", "tq_replied")
	if err := rec.Validate(); err != nil {
		t.Errorf("record invariants violated: %v", err)
	}
}

func TestStartUsesDefinitionDefaultWithoutOverride(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	snap, err := eng.Start(context.Background(), models.EntityTypeTender, "7", "tender_approval", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.AllocatedMs != 24*60*60*1000 {
		t.Errorf("expected default 24h budget, got %d", snap.AllocatedMs)
	}
}

func TestStartReusesPreCreatedRecord(t *testing.T) {
	eng, st, clk := newTestEngine(t)
	ctx := context.Background()

	pre := &models.StepTimerRecord{
		EntityType:       models.EntityTypeTender,
		EntityID:         "7",
		StepKey:          "tender_info",
		Status:           models.TimerStatusNotStarted,
		TotalAllocatedMs: 1000,
		Version:          1,
		CreatedAt:        clk.Now(),
		UpdatedAt:        clk.Now(),
	}
	if err := st.Create(ctx, pre); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 5000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Status != models.TimerStatusRunning {
		t.Errorf("expected RUNNING, got %s", snap.Status)
	}
	if snap.AllocatedMs != 5000 {
		t.Errorf("expected override budget 5000, got %d", snap.AllocatedMs)
	}

	rec := mustGet(t, st, models.EntityTypeTender, "7", "tender_info")
	if rec.Version != 2 {
		t.Errorf("expected version 2 after start, got %d", rec.Version)
	}
}

func TestVersionIncrementsByOnePerTransition(t *testing.T) {
	eng, st, clk := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 60_000); err != nil {
		t.Fatalf("start: %v", err)
	}
	if v := mustGet(t, st, models.EntityTypeTender, "7", "tender_info").Version; v != 1 {
		t.Errorf("expected version 1 after start, got %d", v)
	}

	clk.Advance(time.Second)
	if _, err := eng.Pause(ctx, models.EntityTypeTender, "7", "tender_info"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if v := mustGet(t, st, models.EntityTypeTender, "7", "tender_info").Version; v != 2 {
		t.Errorf("expected version 2 after pause, got %d", v)
	}

	if _, err := eng.Resume(ctx, models.EntityTypeTender, "7", "tender_info"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if v := mustGet(t, st, models.EntityTypeTender, "7", "tender_info").Version; v != 3 {
		t.Errorf("expected version 3 after resume, got %d", v)
	}

	if _, err := eng.Complete(ctx, models.EntityTypeTender, "7", "tender_info"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if v := mustGet(t, st, models.EntityTypeTender, "7", "tender_info").Version; v != 4 {
		t.Errorf("expected version 4 after complete, got %d", v)
	}
}

func TestPauseResumeRoundTripExcludesPausedInterval(t *testing.T) {
	eng, st, clk := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 10_000); err != nil {
		t.Fatalf("start: %v", err)
	}

	clk.Advance(3 * time.Second)
	snap, err := eng.Pause(ctx, models.EntityTypeTender, "7", "tender_info")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if snap.ElapsedMs != 3000 {
		t.Errorf("expected elapsed 3000 at pause, got %d", snap.ElapsedMs)
	}

	// the paused interval must not count, however long it lasts
	clk.Advance(5 * time.Second)
	snap, err = eng.GetSnapshot(ctx, models.EntityTypeTender, "7", "tender_info")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ElapsedMs != 3000 {
		t.Errorf("expected elapsed frozen at 3000 while paused, got %d", snap.ElapsedMs)
	}

	if _, err := eng.Resume(ctx, models.EntityTypeTender, "7", "tender_info"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	clk.Advance(4 * time.Second)
	snap, err = eng.Complete(ctx, models.EntityTypeTender, "7", "tender_info")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	// wall clock moved 12s, pause lasted 5s
	if snap.ElapsedMs != 7000 {
		t.Errorf("expected elapsed 7000 at completion, got %d", snap.ElapsedMs)
	}
	if snap.RemainingMs != 3000 {
		t.Errorf("expected remaining 3000 at completion, got %d", snap.RemainingMs)
	}

	rec := mustGet(t, st, models.EntityTypeTender, "7", "tender_info")
	if rec.AccumulatedRunMs != 7000 {
		t.Errorf("expected accumulated 7000, got %d", rec.AccumulatedRunMs)
	}
	if rec.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestExactBudgetBoundaryIsNotOverdue(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 5000); err != nil {
		t.Fatalf("start: %v", err)
	}

	clk.Advance(5000 * time.Millisecond)
	snap, err := eng.GetSnapshot(ctx, models.EntityTypeTender, "7", "tender_info")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.RemainingMs != 0 {
		t.Errorf("expected remaining 0 at exact budget, got %d", snap.RemainingMs)
	}
	if snap.IsOverdue {
		t.Error("expected not overdue at exactly the budget")
	}
	if snap.Status != models.TimerStatusRunning {
		t.Errorf("expected RUNNING at exact budget, got %s", snap.Status)
	}

	clk.Advance(time.Millisecond)
	snap, err = eng.GetSnapshot(ctx, models.EntityTypeTender, "7", "tender_info")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.IsOverdue {
		t.Error("expected overdue one millisecond past the budget")
	}
	if snap.Status != models.TimerStatusRunning {
		t.Errorf("snapshot read must not transition the record, got %s", snap.Status)
	}
	if snap.RemainingMs != 0 {
		t.Errorf("remaining must clamp at 0, got %d", snap.RemainingMs)
	}
}

func TestSnapshotOfNeverStartedStepHasNoTimer(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	snap, err := eng.GetSnapshot(context.Background(), models.EntityTypeTender, "7", "tender_info")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.HasTimer {
		t.Error("expected has_timer false for a never-started step")
	}
	if snap.ElapsedMs != 0 || snap.RemainingMs != 0 {
		t.Errorf("expected zero-valued fields, got elapsed=%d remaining=%d", snap.ElapsedMs, snap.RemainingMs)
	}
}

func TestSnapshotReadsAreIdempotent(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 60_000); err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := eng.GetSnapshot(ctx, models.EntityTypeTender, "7", "tender_info")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	second, err := eng.GetSnapshot(ctx, models.EntityTypeTender, "7", "tender_info")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if second.ElapsedMs < first.ElapsedMs {
		t.Errorf("elapsed must be non-decreasing: %d then %d", first.ElapsedMs, second.ElapsedMs)
	}
	if first.Status != second.Status || first.AllocatedMs != second.AllocatedMs {
		t.Errorf("snapshots differ beyond elapsed time: %+v vs %+v", first, second)
	}
}

func TestUnknownStepIsConfigurationError(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "no_such_step", 0); !errors.Is(err, models.ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep from start, got %v", err)
	}
	if _, err := eng.Pause(ctx, "MYSTERY", "7", "tender_info"); !errors.Is(err, models.ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep from pause, got %v", err)
	}
	if _, err := eng.GetSnapshot(ctx, models.EntityTypeTender, "7", "no_such_step"); !errors.Is(err, models.ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep from snapshot, got %v", err)
	}
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	ctx := context.Background()

	// nothing started yet
	if _, err := eng.Pause(ctx, models.EntityTypeTender, "7", "tender_info"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition pausing an absent timer, got %v", err)
	}

	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 60_000); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 60_000); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition starting a running timer, got %v", err)
	}
	if _, err := eng.Resume(ctx, models.EntityTypeTender, "7", "tender_info"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition resuming a running timer, got %v", err)
	}

	clk.Advance(time.Second)
	if _, err := eng.Complete(ctx, models.EntityTypeTender, "7", "tender_info"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := eng.Pause(ctx, models.EntityTypeTender, "7", "tender_info"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition pausing a completed timer, got %v", err)
	}
	if _, err := eng.Complete(ctx, models.EntityTypeTender, "7", "tender_info"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition completing twice, got %v", err)
	}
}

func TestCompleteFromPausedAddsNoRunTime(t *testing.T) {
	eng, st, clk := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 10_000); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(2 * time.Second)
	if _, err := eng.Pause(ctx, models.EntityTypeTender, "7", "tender_info"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	clk.Advance(time.Minute)
	snap, err := eng.Complete(ctx, models.EntityTypeTender, "7", "tender_info")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if snap.ElapsedMs != 2000 {
		t.Errorf("expected elapsed 2000, got %d", snap.ElapsedMs)
	}

	rec := mustGet(t, st, models.EntityTypeTender, "7", "tender_info")
	if rec.AccumulatedRunMs != 2000 {
		t.Errorf("expected accumulated 2000, got %d", rec.AccumulatedRunMs)
	}
}

func TestConcurrentCompletesApplyExactlyOnce(t *testing.T) {
	eng, st, clk := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.Start(ctx, models.EntityTypeTender, "7", "tender_info", 60_000); err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(time.Second)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Complete(ctx, models.EntityTypeTender, "7", "tender_info")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, models.ErrInvalidTransition):
			// the loser re-read a COMPLETED record
		default:
			t.Errorf("unexpected error from concurrent complete: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one successful complete, got %d", succeeded)
	}

	rec := mustGet(t, st, models.EntityTypeTender, "7", "tender_info")
	if rec.Status != models.TimerStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", rec.Status)
	}
	if rec.AccumulatedRunMs != 1000 {
		t.Errorf("run time double-accounted: expected 1000, got %d", rec.AccumulatedRunMs)
	}
	if rec.Version != 2 {
		t.Errorf("expected version 2 after one transition, got %d", rec.Version)
	}
}

// conflictStore forces every compare-and-swap to lose, to exercise the retry
// bound.
type conflictStore struct {
	store.TimerStore
}

func (s *conflictStore) CompareAndSwap(ctx context.Context, record *models.StepTimerRecord, expectedVersion int64) error {
	return models.ErrVersionConflict
}

func TestTransitionRetriesExhaustToConcurrentUpdate(t *testing.T) {
	reg, err := registry.New(registry.Defaults())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	base := store.NewInMemoryStore()
	clk := clock.NewFakeClock(testStart)

	// seed one running record through a normally-behaving engine
	if _, err := NewEngine(base, reg, clk).Start(context.Background(), models.EntityTypeTender, "7", "tender_info", 60_000); err != nil {
		t.Fatalf("seed start: %v", err)
	}

	eng := NewEngine(&conflictStore{base}, reg, clk)
	if _, err := eng.Pause(context.Background(), models.EntityTypeTender, "7", "tender_info"); !errors.Is(err, models.ErrConcurrentUpdate) {
		t.Errorf("expected ErrConcurrentUpdate after exhausted retries, got %v", err)
	}
}
