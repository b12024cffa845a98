package app_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

func TestEventIDIsDeterministicPerTransition(t *testing.T) {
	a := app.EventID(domain.EventAttemptFinalized, "attempt-1")
	b := app.EventID(domain.EventAttemptFinalized, "attempt-1")
	if a != b {
		t.Fatalf("same transition must yield the same event id: %s vs %s", a, b)
	}
	if app.EventID(domain.EventAttemptInvalidated, "attempt-1") == a {
		t.Fatalf("different event types must yield different ids")
	}
	if app.EventID(domain.EventAttemptFinalized, "attempt-2") == a {
		t.Fatalf("different attempts must yield different ids")
	}
}

func TestEnqueueSameIDTwiceKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxStore()
	emitter := app.NewEventEmitter(outbox)

	attempt := &domain.Attempt{
		ID:         "attempt-1",
		QuizID:     "quiz-1",
		StudentID:  "s1",
		ScheduleID: "sch1",
		State:      domain.AttemptFinalized,
		StartedAt:  time.Now().UTC(),
	}
	if err := emitter.AttemptFinalized(ctx, attempt, domain.TriggerUser); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := emitter.AttemptFinalized(ctx, attempt, domain.TriggerExpiry); err != nil {
		t.Fatalf("second enqueue: %v", err)
	}

	events, err := outbox.DueBatch(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("due batch: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one row after duplicate enqueue, got %d", len(events))
	}
}

func TestFinalizedPayloadCarriesConsumerFields(t *testing.T) {
	ctx := context.Background()
	outbox := memory.NewOutboxStore()
	emitter := app.NewEventEmitter(outbox)

	score, max := 2.0, 3.0
	finished := time.Now().UTC()
	attempt := &domain.Attempt{
		ID:          "attempt-1",
		QuizID:      "quiz-1",
		QuizRootID:  "root-1",
		QuizVersion: 4,
		StudentID:   "s1",
		ClassID:     "c1",
		ScheduleID:  "sch1",
		State:       domain.AttemptFinalized,
		StartedAt:   finished.Add(-time.Minute),
		FinishedAt:  &finished,
		Score:       &score,
		MaxScore:    &max,
	}
	if err := emitter.AttemptFinalized(ctx, attempt, domain.TriggerExpiry); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ev, err := outbox.Get(ctx, app.EventID(domain.EventAttemptFinalized, "attempt-1"))
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if ev.PartitionKey != "attempt-1" {
		t.Fatalf("expected partition key attempt-1, got %s", ev.PartitionKey)
	}

	var payload app.AttemptFinalizedPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.StudentID != "s1" || payload.ScheduleID != "sch1" {
		t.Fatalf("payload must denormalize student/schedule, got %+v", payload)
	}
	if payload.Score != 2 || payload.MaxScore != 3 {
		t.Fatalf("payload score mismatch: %+v", payload)
	}
	if payload.Trigger != string(domain.TriggerExpiry) {
		t.Fatalf("payload trigger mismatch: %s", payload.Trigger)
	}
}
