package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a simple in-process turn store for local/dev use and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]Turn)}
}

func (s *InMemoryStore) InsertTurn(_ context.Context, turn Turn) error {
	if err := turn.validate(); err != nil {
		return err
	}
	turn = normalize(turn)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records[turn.UserID] {
		if existing.CreatedAt.Equal(turn.CreatedAt) {
			return ErrDuplicateTurn
		}
	}
	s.records[turn.UserID] = append(s.records[turn.UserID], turn)
	return nil
}

func (s *InMemoryStore) Turns(_ context.Context, userID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	out := make([]Turn, len(arr))
	copy(out, arr)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) LastTurnAt(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, t := range s.records[userID] {
		if t.CreatedAt.After(last) {
			last = t.CreatedAt
		}
	}
	return last, !last.IsZero(), nil
}

func (s *InMemoryStore) DeleteUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.records[userID]))
	delete(s.records, userID)
	return n, nil
}

func (s *InMemoryStore) Backend() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }
