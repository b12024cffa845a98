package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// AttemptStore is an in-memory AttemptStore with the same conditional-update
// semantics as the Postgres implementation; unit tests race against it.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*domain.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]*domain.Attempt)}
}

func (s *AttemptStore) Insert(_ context.Context, a *domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.attempts {
		if existing.State == domain.AttemptInProgress &&
			existing.StudentID == a.StudentID && existing.ScheduleID == a.ScheduleID {
			return domain.ErrDuplicateAttempt
		}
	}
	s.attempts[a.ID] = a.Clone()
	return nil
}

func (s *AttemptStore) Get(_ context.Context, id string) (*domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return a.Clone(), nil
}

func (s *AttemptStore) FindInProgress(_ context.Context, studentID, scheduleID string) (*domain.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.State == domain.AttemptInProgress && a.StudentID == studentID && a.ScheduleID == scheduleID {
			return a.Clone(), nil
		}
	}
	return nil, domain.ErrAttemptNotFound
}

func (s *AttemptStore) ListInProgressByQuiz(_ context.Context, quizID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []*domain.Attempt
	for _, a := range s.attempts {
		if a.State == domain.AttemptInProgress && a.QuizID == quizID {
			live = append(live, a)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].StartedAt.Before(live[j].StartedAt) })
	ids := make([]string, 0, len(live))
	for _, a := range live {
		if len(ids) == limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (s *AttemptStore) SaveAnswers(_ context.Context, id string, expectedVersion int64, answers map[string]json.RawMessage, savedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if a.State != domain.AttemptInProgress || a.AttemptVersion != expectedVersion {
		return false, nil
	}
	a.Answers = make(map[string]json.RawMessage, len(answers))
	for k, v := range answers {
		a.Answers[k] = append(json.RawMessage(nil), v...)
	}
	a.AttemptVersion++
	t := savedAt
	a.LastSavedAt = &t
	return true, nil
}

func (s *AttemptStore) Finalize(_ context.Context, id string, res domain.GradeResult, finishedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if a.State != domain.AttemptInProgress {
		return false, nil
	}
	a.State = domain.AttemptFinalized
	t := finishedAt
	a.FinishedAt = &t
	total, max := res.Total, res.Max
	a.Score = &total
	a.MaxScore = &max
	a.Breakdown = append([]domain.ItemScore(nil), res.PerItem...)
	a.AttemptVersion++
	return true, nil
}

func (s *AttemptStore) Invalidate(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	if a.State != domain.AttemptInProgress {
		return false, nil
	}
	a.State = domain.AttemptInvalidated
	t := at
	a.FinishedAt = &t
	a.AttemptVersion++
	return true, nil
}
