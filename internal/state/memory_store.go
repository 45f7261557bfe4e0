package state

import (
	"context"
	"sort"
	"sync"

	"logalert/internal/domain"
)

// MemoryStore keeps condition state in process memory for single-instance mode.
// Params: in-memory map guarded by RWMutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	record   domain.ConditionState
	revision uint64
}

// NewMemoryStore creates in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

// Get returns state and revision.
// Params: condition ID key.
// Returns: stored state, revision, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, conditionID string) (domain.ConditionState, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.records[conditionID]
	if !ok {
		return domain.ConditionState{}, 0, ErrNotFound
	}
	return cloneState(entry.record), entry.revision, nil
}

// Create stores state when key is absent.
// Params: state with condition ID.
// Returns: first revision or ErrConflict when state already exists.
func (s *MemoryStore) Create(_ context.Context, record domain.ConditionState) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ConditionID]; exists {
		return 0, ErrConflict
	}
	s.records[record.ConditionID] = memoryRecord{record: cloneState(record), revision: 1}
	return 1, nil
}

// Update replaces state using expected revision CAS.
// Params: replacement state and expected revision.
// Returns: new revision, ErrNotFound, or ErrConflict.
func (s *MemoryStore) Update(_ context.Context, record domain.ConditionState, expectedRevision uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[record.ConditionID]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.revision != expectedRevision {
		return 0, ErrConflict
	}
	rev := expectedRevision + 1
	s.records[record.ConditionID] = memoryRecord{record: cloneState(record), revision: rev}
	return rev, nil
}

// Delete removes state; absent keys are ignored.
func (s *MemoryStore) Delete(_ context.Context, conditionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, conditionID)
	return nil
}

// List returns sorted condition IDs with stored state.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close releases memory store resources.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneState(record domain.ConditionState) domain.ConditionState {
	if record.LastTriggeredAt != nil {
		at := *record.LastTriggeredAt
		record.LastTriggeredAt = &at
	}
	return record
}
