package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
	"quiz-attempt-service/internal/infra/memory"
)

type expiryFixture struct {
	attempts  *memory.AttemptStore
	outbox    *memory.OutboxStore
	deadlines *memory.DeadlineIndex
	lifecycle *app.Lifecycle
	worker    *ExpiryWorker
	advance   func(time.Duration)
	now       func() time.Time
}

func newExpiryFixture(t *testing.T) *expiryFixture {
	t.Helper()

	quizzes := map[string]domain.QuizDoc{
		"quiz-1": {
			ID:      "quiz-1",
			RootID:  "root-1",
			Version: 1,
			Type:    grading.TypeChoice,
			Title:   "Short quiz",
			Items: []domain.Item{
				{ID: "i1", Prompt: "Pick a", Options: []domain.Option{
					{ID: "a", Text: "a", Correct: true},
					{ID: "b", Text: "b"},
				}},
			},
			TimeLimitSec: 60,
		},
	}

	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	now, advance := testClock(start)

	attempts := memory.NewAttemptStore()
	outbox := memory.NewOutboxStore()
	deadlines := memory.NewDeadlineIndex()
	catalog := memory.NewQuizCatalog(memory.NewStaticQuizLoader(quizzes))
	lifecycle := app.NewLifecycle(
		attempts,
		app.NewEventEmitter(outbox),
		catalog,
		grading.DefaultRegistry(),
		deadlines,
		app.DefaultDeadlinePolicy(),
		app.NewNotifier(),
	).WithClock(now)

	return &expiryFixture{
		attempts:  attempts,
		outbox:    outbox,
		deadlines: deadlines,
		lifecycle: lifecycle,
		worker:    NewExpiryWorker(deadlines, lifecycle, time.Second, 100).WithClock(now),
		advance:   advance,
		now:       now,
	}
}

func TestTickFinalizesOverdueAttempts(t *testing.T) {
	ctx := context.Background()
	f := newExpiryFixture(t)

	attempt, err := f.lifecycle.Start(ctx, app.StartInput{
		QuizID: "quiz-1", StudentID: "s1", ScheduleID: "sch1",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Still inside the quiz's time budget: nothing is due.
	f.advance(30 * time.Second)
	if n := f.worker.Tick(ctx); n != 0 {
		t.Fatalf("expected nothing due yet, got %d", n)
	}

	f.advance(2 * time.Minute)
	if n := f.worker.Tick(ctx); n != 1 {
		t.Fatalf("expected one finalization, got %d", n)
	}

	got, err := f.attempts.Get(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if got.State != domain.AttemptFinalized {
		t.Fatalf("expected finalized, got %s", got.State)
	}
	if got.Score == nil || *got.Score != 0 {
		t.Fatalf("unanswered expired attempt must score 0, got %v", got.Score)
	}
	if f.deadlines.Len() != 0 {
		t.Fatalf("deadline index must be drained, %d entries left", f.deadlines.Len())
	}

	// The claim removed the entry, so the next tick sees nothing.
	if n := f.worker.Tick(ctx); n != 0 {
		t.Fatalf("expected idle tick after drain, got %d", n)
	}
}

func TestTickScoresSavedAnswersOnExpiry(t *testing.T) {
	ctx := context.Background()
	f := newExpiryFixture(t)

	attempt, err := f.lifecycle.Start(ctx, app.StartInput{
		QuizID: "quiz-1", StudentID: "s1", ScheduleID: "sch1",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.lifecycle.SubmitAnswers(ctx, attempt.ID, map[string]json.RawMessage{
		"i1": json.RawMessage(`"a"`),
	}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	f.advance(5 * time.Minute)
	if n := f.worker.Tick(ctx); n != 1 {
		t.Fatalf("expected one finalization, got %d", n)
	}

	got, _ := f.attempts.Get(ctx, attempt.ID)
	if got.Score == nil || *got.Score != 1 {
		t.Fatalf("expired attempt must grade saved answers, got %v", got.Score)
	}
}

func TestTickSkipsStaleIndexEntries(t *testing.T) {
	ctx := context.Background()
	f := newExpiryFixture(t)

	// An index entry whose attempt never landed must not abort the batch.
	if err := f.deadlines.Schedule(ctx, "ghost-attempt", f.now().Add(-time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	attempt, err := f.lifecycle.Start(ctx, app.StartInput{
		QuizID: "quiz-1", StudentID: "s1", ScheduleID: "sch1",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f.advance(5 * time.Minute)
	if n := f.worker.Tick(ctx); n != 1 {
		t.Fatalf("expected the real attempt finalized despite the ghost, got %d", n)
	}
	got, _ := f.attempts.Get(ctx, attempt.ID)
	if got.State != domain.AttemptFinalized {
		t.Fatalf("expected finalized, got %s", got.State)
	}
}
