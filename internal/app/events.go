package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
)

// eventNamespace seeds deterministic (uuid v5) event IDs. Deriving the ID
// from the attempt and event type means every retry of the same transition
// enqueues the same ID, and the outbox's insert-or-ignore collapses them
// into exactly one row.
var eventNamespace = uuid.MustParse("7e0f2c6a-9a41-4c2e-8d35-5b5c9a1f4e02")

// EventID returns the canonical outbox ID for a transition of one attempt.
func EventID(eventType, attemptID string) uuid.UUID {
	return uuid.NewSHA1(eventNamespace, []byte(eventType+":"+attemptID))
}

// AttemptFinalizedPayload is the downstream consumer contract for a
// finalized attempt: denormalized enough to update a remote materialized
// view without a synchronous round trip back into this service.
type AttemptFinalizedPayload struct {
	EventID     string     `json:"eventId"`
	EventType   string     `json:"eventType"`
	AttemptID   string     `json:"attemptId"`
	QuizID      string     `json:"quizId"`
	QuizRootID  string     `json:"quizRootId"`
	QuizVersion int        `json:"quizVersion"`
	StudentID   string     `json:"studentId"`
	ClassID     string     `json:"classId,omitempty"`
	ScheduleID  string     `json:"scheduleId"`
	Trigger     string     `json:"trigger"`
	Score       float64    `json:"score"`
	MaxScore    float64    `json:"maxScore"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	OccurredAt  time.Time  `json:"occurredAt"`
}

// AttemptInvalidatedPayload notifies consumers that an attempt no longer
// counts (its quiz was deleted or replaced upstream).
type AttemptInvalidatedPayload struct {
	EventID     string    `json:"eventId"`
	EventType   string    `json:"eventType"`
	AttemptID   string    `json:"attemptId"`
	QuizID      string    `json:"quizId"`
	QuizRootID  string    `json:"quizRootId"`
	QuizVersion int       `json:"quizVersion"`
	StudentID   string    `json:"studentId"`
	ClassID     string    `json:"classId,omitempty"`
	ScheduleID  string    `json:"scheduleId"`
	StartedAt   time.Time `json:"startedAt"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// EventEmitter builds canonical event envelopes and hands them to the
// outbox. Envelope builders are pure; only Emit touches storage.
type EventEmitter struct {
	outbox OutboxStore
	now    func() time.Time
}

func NewEventEmitter(outbox OutboxStore) *EventEmitter {
	return &EventEmitter{outbox: outbox, now: time.Now}
}

// AttemptFinalized enqueues the finalized event for a. Safe to call more
// than once per attempt; the deterministic ID dedups.
func (e *EventEmitter) AttemptFinalized(ctx context.Context, a *domain.Attempt, trigger domain.FinalizeTrigger) error {
	id := EventID(domain.EventAttemptFinalized, a.ID)
	payload := AttemptFinalizedPayload{
		EventID:     id.String(),
		EventType:   domain.EventAttemptFinalized,
		AttemptID:   a.ID,
		QuizID:      a.QuizID,
		QuizRootID:  a.QuizRootID,
		QuizVersion: a.QuizVersion,
		StudentID:   a.StudentID,
		ClassID:     a.ClassID,
		ScheduleID:  a.ScheduleID,
		Trigger:     string(trigger),
		StartedAt:   a.StartedAt,
		FinishedAt:  a.FinishedAt,
		OccurredAt:  e.now().UTC(),
	}
	if a.Score != nil {
		payload.Score = *a.Score
	}
	if a.MaxScore != nil {
		payload.MaxScore = *a.MaxScore
	}
	return e.emit(ctx, id, domain.EventAttemptFinalized, a.ID, payload)
}

// AttemptInvalidated enqueues the invalidated event for a.
func (e *EventEmitter) AttemptInvalidated(ctx context.Context, a *domain.Attempt) error {
	id := EventID(domain.EventAttemptInvalidated, a.ID)
	payload := AttemptInvalidatedPayload{
		EventID:     id.String(),
		EventType:   domain.EventAttemptInvalidated,
		AttemptID:   a.ID,
		QuizID:      a.QuizID,
		QuizRootID:  a.QuizRootID,
		QuizVersion: a.QuizVersion,
		StudentID:   a.StudentID,
		ClassID:     a.ClassID,
		ScheduleID:  a.ScheduleID,
		StartedAt:   a.StartedAt,
		OccurredAt:  e.now().UTC(),
	}
	return e.emit(ctx, id, domain.EventAttemptInvalidated, a.ID, payload)
}

func (e *EventEmitter) emit(ctx context.Context, id uuid.UUID, eventType, partitionKey string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	now := e.now().UTC()
	return e.outbox.Enqueue(ctx, &domain.OutboxEvent{
		ID:            id,
		EventType:     eventType,
		PartitionKey:  partitionKey,
		Payload:       raw,
		Status:        domain.OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}
