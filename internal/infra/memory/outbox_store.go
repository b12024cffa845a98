package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
)

// OutboxStore is an in-memory OutboxStore mirroring the Postgres
// conditional-transition semantics.
type OutboxStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.OutboxEvent
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{events: make(map[uuid.UUID]*domain.OutboxEvent)}
}

func (s *OutboxStore) Enqueue(_ context.Context, ev *domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[ev.ID]; exists {
		return nil
	}
	cp := *ev
	s.events[ev.ID] = &cp
	return nil
}

func (s *OutboxStore) Get(_ context.Context, id uuid.UUID) (*domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *OutboxStore) DueBatch(_ context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.OutboxEvent
	for _, ev := range s.events {
		if ev.Status == domain.OutboxPending && !ev.NextAttemptAt.After(now) {
			due = append(due, *ev)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *OutboxStore) Lease(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return false, domain.ErrEventNotFound
	}
	if ev.Status != domain.OutboxPending {
		return false, nil
	}
	ev.Status = domain.OutboxPublishing
	t := now
	ev.LeasedAt = &t
	ev.UpdatedAt = now
	return true, nil
}

func (s *OutboxStore) MarkPublished(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	if ev.Status != domain.OutboxPublishing {
		return nil
	}
	ev.Status = domain.OutboxPublished
	t := now
	ev.PublishedAt = &t
	ev.LeasedAt = nil
	ev.UpdatedAt = now
	return nil
}

func (s *OutboxStore) MarkDead(_ context.Context, id uuid.UUID, cause string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	if ev.Status != domain.OutboxPublishing {
		return nil
	}
	ev.Status = domain.OutboxDead
	ev.LastError = cause
	ev.LeasedAt = nil
	ev.UpdatedAt = now
	return nil
}

func (s *OutboxStore) Reschedule(_ context.Context, id uuid.UUID, cause string, next, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.ErrEventNotFound
	}
	if ev.Status != domain.OutboxPublishing {
		return nil
	}
	ev.Status = domain.OutboxPending
	ev.Attempts++
	ev.LastError = cause
	ev.NextAttemptAt = next
	ev.LeasedAt = nil
	ev.UpdatedAt = now
	return nil
}

func (s *OutboxStore) ReclaimStale(_ context.Context, leasedBefore, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reclaimed := 0
	for _, ev := range s.events {
		if ev.Status == domain.OutboxPublishing && ev.LeasedAt != nil && ev.LeasedAt.Before(leasedBefore) {
			ev.Status = domain.OutboxPending
			ev.NextAttemptAt = now
			ev.LeasedAt = nil
			ev.UpdatedAt = now
			reclaimed++
		}
	}
	return reclaimed, nil
}
