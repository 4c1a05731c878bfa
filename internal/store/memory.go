package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tenderdesk/steptimer/internal/models"
)

// Compile-time check that InMemoryStore implements TimerStore.
var _ TimerStore = (*InMemoryStore)(nil)

type recordKey struct {
	entityType models.EntityType
	entityID   string
	stepKey    string
}

// InMemoryStore is a mutex-guarded map-backed store. It is used by tests and
// single-process development runs; durability comes from the SQL backends.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]models.StepTimerRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[recordKey]models.StepTimerRecord),
	}
}

func (s *InMemoryStore) Get(ctx context.Context, entityType models.EntityType, entityID, stepKey string) (*models.StepTimerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordKey{entityType, entityID, stepKey}]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *InMemoryStore) Create(ctx context.Context, record *models.StepTimerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{record.EntityType, record.EntityID, record.StepKey}
	if _, exists := s.records[key]; exists {
		return models.ErrVersionConflict
	}
	s.records[key] = *record
	return nil
}

func (s *InMemoryStore) CompareAndSwap(ctx context.Context, record *models.StepTimerRecord, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey{record.EntityType, record.EntityID, record.StepKey}
	stored, exists := s.records[key]
	if !exists || stored.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	record.Version = expectedVersion + 1
	s.records[key] = *record
	return nil
}

func (s *InMemoryStore) ListForEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.StepTimerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.StepTimerRecord
	for key, rec := range s.records {
		if key.entityType == entityType && key.entityID == entityID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepKey < out[j].StepKey })
	return out, nil
}

func (s *InMemoryStore) ListRunningOlderThan(ctx context.Context, entityType models.EntityType, cutoff time.Time) ([]models.StepTimerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.StepTimerRecord
	for key, rec := range s.records {
		if key.entityType != entityType || rec.Status != models.TimerStatusRunning {
			continue
		}
		if rec.LastResumedAt != nil && !rec.LastResumedAt.After(cutoff) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].StepKey < out[j].StepKey
	})
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
