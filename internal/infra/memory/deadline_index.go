package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DeadlineIndex is an in-memory sorted deadline index with the same
// claim-by-remove poll semantics as the Redis implementation.
type DeadlineIndex struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
}

func NewDeadlineIndex() *DeadlineIndex {
	return &DeadlineIndex{deadlines: make(map[string]time.Time)}
}

func (i *DeadlineIndex) Schedule(_ context.Context, attemptID string, deadline time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deadlines[attemptID] = deadline
	return nil
}

func (i *DeadlineIndex) Clear(_ context.Context, attemptID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.deadlines, attemptID)
	return nil
}

func (i *DeadlineIndex) PollDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	type entry struct {
		id       string
		deadline time.Time
	}
	var due []entry
	for id, d := range i.deadlines {
		if !d.After(now) {
			due = append(due, entry{id, d})
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].deadline.Before(due[b].deadline) })
	if len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, 0, len(due))
	for _, e := range due {
		delete(i.deadlines, e.id)
		ids = append(ids, e.id)
	}
	return ids, nil
}

// Len is test-only.
func (i *DeadlineIndex) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.deadlines)
}
