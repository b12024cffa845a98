package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

func newAttempt(id, student, schedule string) *domain.Attempt {
	return &domain.Attempt{
		ID:             id,
		QuizID:         "quiz-1",
		StudentID:      student,
		ScheduleID:     schedule,
		State:          domain.AttemptInProgress,
		StartedAt:      time.Now().UTC(),
		Answers:        map[string]json.RawMessage{},
		AttemptVersion: 1,
	}
}

func TestInsertRejectsSecondLiveAttempt(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	if err := store.Insert(ctx, newAttempt("a1", "s1", "sch1")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(ctx, newAttempt("a2", "s1", "sch1")); err != domain.ErrDuplicateAttempt {
		t.Fatalf("expected ErrDuplicateAttempt, got %v", err)
	}
	// A different schedule is a different pair.
	if err := store.Insert(ctx, newAttempt("a3", "s1", "sch2")); err != nil {
		t.Fatalf("insert other schedule: %v", err)
	}
}

func TestInsertAllowsNewAttemptAfterTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	if err := store.Insert(ctx, newAttempt("a1", "s1", "sch1")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	won, err := store.Finalize(ctx, "a1", domain.GradeResult{}, time.Now())
	if err != nil || !won {
		t.Fatalf("finalize: won=%v err=%v", won, err)
	}
	if err := store.Insert(ctx, newAttempt("a2", "s1", "sch1")); err != nil {
		t.Fatalf("expected insert after finalization, got %v", err)
	}
}

func TestSaveAnswersIsConditionalOnVersion(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	if err := store.Insert(ctx, newAttempt("a1", "s1", "sch1")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	answers := map[string]json.RawMessage{"i1": json.RawMessage(`"o1"`)}
	saved, err := store.SaveAnswers(ctx, "a1", 1, answers, time.Now())
	if err != nil || !saved {
		t.Fatalf("save: saved=%v err=%v", saved, err)
	}

	// The stale version loses without error.
	saved, err = store.SaveAnswers(ctx, "a1", 1, answers, time.Now())
	if err != nil {
		t.Fatalf("stale save: %v", err)
	}
	if saved {
		t.Fatalf("stale version must not win")
	}

	a, _ := store.Get(ctx, "a1")
	if a.AttemptVersion != 2 {
		t.Fatalf("expected version 2, got %d", a.AttemptVersion)
	}
	if a.LastSavedAt == nil {
		t.Fatalf("expected lastSavedAt set")
	}
}

func TestFinalizeHasOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	if err := store.Insert(ctx, newAttempt("a1", "s1", "sch1")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := store.Finalize(ctx, "a1", domain.GradeResult{Total: 1, Max: 2}, time.Now())
	if err != nil || !first {
		t.Fatalf("first finalize: won=%v err=%v", first, err)
	}
	second, err := store.Finalize(ctx, "a1", domain.GradeResult{Total: 2, Max: 2}, time.Now())
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if second {
		t.Fatalf("second finalize must lose")
	}

	a, _ := store.Get(ctx, "a1")
	if a.Score == nil || *a.Score != 1 {
		t.Fatalf("loser must not overwrite the result, got %v", a.Score)
	}

	// Invalidate after finalize loses the same way.
	won, err := store.Invalidate(ctx, "a1", time.Now())
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if won {
		t.Fatalf("invalidate of finalized attempt must lose")
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()
	if err := store.Insert(ctx, newAttempt("a1", "s1", "sch1")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	a, _ := store.Get(ctx, "a1")
	a.State = domain.AttemptInvalidated
	a.Answers["i1"] = json.RawMessage(`"tampered"`)

	fresh, _ := store.Get(ctx, "a1")
	if fresh.State != domain.AttemptInProgress || len(fresh.Answers) != 0 {
		t.Fatalf("mutating a returned attempt must not touch the store: %+v", fresh)
	}
}

func TestListInProgressByQuizRespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"a1", "a2", "a3"} {
		a := newAttempt(id, "s"+id, "sch1")
		a.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.Insert(ctx, a); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	if _, err := store.Finalize(ctx, "a2", domain.GradeResult{}, time.Now()); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	ids, err := store.ListInProgressByQuiz(ctx, "quiz-1", 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a1" {
		t.Fatalf("expected oldest live attempt first, got %v", ids)
	}

	ids, _ = store.ListInProgressByQuiz(ctx, "quiz-1", 10)
	if len(ids) != 2 {
		t.Fatalf("finalized attempts must not be listed, got %v", ids)
	}
}
