package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
)

// AttemptStore abstracts durable attempt persistence. Every mutation is a
// single conditional update keyed on the record's current state (and version
// for answer saves); the boolean results report whether the condition
// matched, which is the only cross-replica coordination primitive.
type AttemptStore interface {
	Insert(ctx context.Context, a *domain.Attempt) error
	Get(ctx context.Context, id string) (*domain.Attempt, error)
	// FindInProgress returns the live attempt for (student, schedule), or
	// domain.ErrAttemptNotFound.
	FindInProgress(ctx context.Context, studentID, scheduleID string) (*domain.Attempt, error)
	// ListInProgressByQuiz returns IDs of live attempts against quizID,
	// oldest first, for invalidation cascades.
	ListInProgressByQuiz(ctx context.Context, quizID string, limit int) ([]string, error)
	// SaveAnswers persists the merged answer set conditioned on the attempt
	// still being in_progress at expectedVersion, bumping the version.
	SaveAnswers(ctx context.Context, id string, expectedVersion int64, answers map[string]json.RawMessage, savedAt time.Time) (bool, error)
	// Finalize is the race-resolution point: one conditional update
	// WHERE state = in_progress. False means another trigger won.
	Finalize(ctx context.Context, id string, res domain.GradeResult, finishedAt time.Time) (bool, error)
	// Invalidate flips in_progress to invalidated; false means the attempt
	// was already terminal.
	Invalidate(ctx context.Context, id string, at time.Time) (bool, error)
}

// OutboxStore is the durable event log backing at-least-once delivery.
type OutboxStore interface {
	// Enqueue inserts ev keyed by its ID; a duplicate ID is a no-op success
	// so at-least-once producers can re-enqueue safely.
	Enqueue(ctx context.Context, ev *domain.OutboxEvent) error
	Get(ctx context.Context, id uuid.UUID) (*domain.OutboxEvent, error)
	// DueBatch returns up to limit pending events with nextAttemptAt <= now,
	// oldest first.
	DueBatch(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error)
	// Lease transitions pending -> publishing conditioned on the status
	// still being pending; false means another publisher holds it.
	Lease(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	MarkPublished(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkDead(ctx context.Context, id uuid.UUID, cause string, now time.Time) error
	// Reschedule returns a leased event to pending with attempts+1 and the
	// supplied next attempt time.
	Reschedule(ctx context.Context, id uuid.UUID, cause string, next, now time.Time) error
	// ReclaimStale resets events leased before leasedBefore back to pending
	// (crash recovery for publishers that died mid-send).
	ReclaimStale(ctx context.Context, leasedBefore, now time.Time) (int, error)
}

// DeadlineIndex is the sorted (attemptID -> deadline) index driving expiry.
type DeadlineIndex interface {
	// Schedule upserts the deadline for attemptID.
	Schedule(ctx context.Context, attemptID string, deadline time.Time) error
	// Clear removes attemptID; best-effort, a stale entry is harmless.
	Clear(ctx context.Context, attemptID string) error
	// PollDue claims (removes) and returns up to limit attempt IDs whose
	// deadline is <= now. The claim only reduces duplicate work across
	// replicas; exclusivity comes from the attempt store's conditional
	// finalize.
	PollDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// QuizCatalog loads authored quiz documents (from cache/backing store).
type QuizCatalog interface {
	GetQuiz(ctx context.Context, quizID string) (domain.QuizDoc, error)
}
