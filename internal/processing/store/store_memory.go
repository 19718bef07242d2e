package store

import (
	"context"
	"sort"
	"sync"

	"commhub/internal/processing/models"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
)

type InMemory struct {
	mu      sync.Mutex
	entries map[domain.LogEntryID]*models.LogEntry
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[domain.LogEntryID]*models.LogEntry)}
}

func (s *InMemory) Append(_ context.Context, e *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; ok {
		return sentinel.ErrConflict
	}
	s.entries[e.ID] = copyEntry(e)
	return nil
}

func (s *InMemory) Update(_ context.Context, e *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.entries[e.ID] = copyEntry(e)
	return nil
}

func (s *InMemory) Find(_ context.Context, id domain.LogEntryID) (*models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyEntry(e), nil
}

func (s *InMemory) ListByCommunication(_ context.Context, commID domain.CommunicationID) ([]*models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.LogEntry
	for _, e := range s.entries {
		if e.CommunicationID == commID {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func copyEntry(e *models.LogEntry) *models.LogEntry {
	dup := *e
	return &dup
}
