package store

import (
	"fmt"
	"sync"

	"github.com/sit-app/sit/internal/models"
)

// Compile-time checks that InMemoryStore satisfies both storage roles.
var (
	_ Queue      = (*InMemoryStore)(nil)
	_ StateCache = (*InMemoryStore)(nil)
)

// InMemoryStore is a non-durable store for tests.
type InMemoryStore struct {
	mu    sync.Mutex
	recs  []models.QueuedResponse
	slots map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{slots: make(map[string][]byte)}
}

func (s *InMemoryStore) Enqueue(rec models.QueuedResponse) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue invalid record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *InMemoryStore) LoadAll() ([]models.QueuedResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueuedResponse, len(s.recs))
	copy(out, s.recs)
	return out, nil
}

func (s *InMemoryStore) DequeueConfirmed(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	confirmed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		confirmed[id] = struct{}{}
	}
	kept := s.recs[:0]
	for _, r := range s.recs {
		if _, ok := confirmed[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	s.recs = kept
	return nil
}

func (s *InMemoryStore) RecordFailure(id string, msg string) error {
	return nil
}

func (s *InMemoryStore) PendingCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs), nil
}

func (s *InMemoryStore) PutSlot(name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.slots[name] = cp
	return nil
}

func (s *InMemoryStore) GetSlot(name string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.slots[name]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return cp, true, nil
}
