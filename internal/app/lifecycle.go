package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/grading"
)

// saveRetries bounds internal CAS retries on answer saves when the caller
// did not supply an expected version.
const saveRetries = 3

// StartInput carries everything needed to open an attempt.
type StartInput struct {
	QuizID     string
	StudentID  string
	ClassID    string
	ScheduleID string
	// ScheduleCloseAt is the externally supplied window close, if any.
	ScheduleCloseAt *time.Time
}

// Lifecycle orchestrates the attempt state machine. All cross-replica races
// resolve through the store's conditional updates; Lifecycle itself holds no
// shared state beyond the injected collaborators.
type Lifecycle struct {
	attempts  AttemptStore
	emitter   *EventEmitter
	catalog   QuizCatalog
	registry  *grading.Registry
	deadlines DeadlineIndex
	policy    DeadlinePolicy
	notifier  *Notifier
	now       func() time.Time
}

func NewLifecycle(attempts AttemptStore, emitter *EventEmitter, catalog QuizCatalog, registry *grading.Registry, deadlines DeadlineIndex, policy DeadlinePolicy, notifier *Notifier) *Lifecycle {
	return &Lifecycle{
		attempts:  attempts,
		emitter:   emitter,
		catalog:   catalog,
		registry:  registry,
		deadlines: deadlines,
		policy:    policy,
		notifier:  notifier,
		now:       time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	l.now = now
	return l
}

// Start opens an attempt for (student, schedule) against quizID. Idempotent:
// an existing in_progress attempt for the pair is returned unchanged so a
// reconnecting student resumes instead of forking a duplicate.
func (l *Lifecycle) Start(ctx context.Context, in StartInput) (*domain.Attempt, error) {
	switch {
	case in.QuizID == "":
		return nil, &domain.ValidationError{Field: "quizId", Reason: "required"}
	case in.StudentID == "":
		return nil, &domain.ValidationError{Field: "studentId", Reason: "required"}
	case in.ScheduleID == "":
		return nil, &domain.ValidationError{Field: "scheduleId", Reason: "required"}
	}

	if existing, err := l.attempts.FindInProgress(ctx, in.StudentID, in.ScheduleID); err == nil {
		return l.resume(ctx, existing, in.ScheduleCloseAt)
	} else if !errors.Is(err, domain.ErrAttemptNotFound) {
		return nil, err
	}

	doc, err := l.catalog.GetQuiz(ctx, in.QuizID)
	if err != nil {
		return nil, err
	}
	strategy, err := l.registry.Resolve(doc.Type)
	if err != nil {
		return nil, err
	}
	snap, err := strategy.BuildSpec(doc)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	attempt := &domain.Attempt{
		ID:             uuid.NewString(),
		QuizID:         doc.ID,
		QuizRootID:     doc.RootID,
		QuizVersion:    doc.Version,
		StudentID:      in.StudentID,
		ClassID:        in.ClassID,
		ScheduleID:     in.ScheduleID,
		State:          domain.AttemptInProgress,
		StartedAt:      now,
		Answers:        map[string]json.RawMessage{},
		Snapshot:       snap,
		AttemptVersion: 1,
	}

	if err := l.attempts.Insert(ctx, attempt); err != nil {
		if errors.Is(err, domain.ErrDuplicateAttempt) {
			// Lost a concurrent start for the same pair; resume theirs.
			existing, err := l.attempts.FindInProgress(ctx, in.StudentID, in.ScheduleID)
			if err != nil {
				return nil, err
			}
			return l.resume(ctx, existing, in.ScheduleCloseAt)
		}
		return nil, err
	}

	deadline := l.policy.Deadline(now, attempt.StartedAt, intrinsicDuration(snap), in.ScheduleCloseAt)
	if err := l.deadlines.Schedule(ctx, attempt.ID, deadline); err != nil {
		// The attempt exists either way; the safety ceiling re-applies when
		// the index is rebuilt, so surface the error but keep the attempt.
		return attempt, fmt.Errorf("schedule deadline for attempt %s: %w", attempt.ID, err)
	}
	return attempt, nil
}

// resume hands back an already-running attempt and re-upserts its deadline.
// The entry is derived from startedAt, so a schedule failure during the
// original start (or a lost index) heals on the next start call instead of
// leaving the attempt in_progress forever.
func (l *Lifecycle) resume(ctx context.Context, attempt *domain.Attempt, closeAt *time.Time) (*domain.Attempt, error) {
	deadline := l.policy.Deadline(l.now().UTC(), attempt.StartedAt, intrinsicDuration(attempt.Snapshot), closeAt)
	if err := l.deadlines.Schedule(ctx, attempt.ID, deadline); err != nil {
		return attempt, fmt.Errorf("reschedule deadline for attempt %s: %w", attempt.ID, err)
	}
	return attempt, nil
}

// Get returns the attempt by ID.
func (l *Lifecycle) Get(ctx context.Context, id string) (*domain.Attempt, error) {
	return l.attempts.Get(ctx, id)
}

// SubmitAnswers merges the provided keys over the stored answers
// (per-key last-writer-wins) and persists with version+1. A caller-supplied
// expectedVersion turns a CAS miss into ErrVersionConflict; without one,
// internal races are retried a bounded number of times.
func (l *Lifecycle) SubmitAnswers(ctx context.Context, id string, answers map[string]json.RawMessage, expectedVersion *int64) (*domain.Attempt, error) {
	if id == "" {
		return nil, &domain.ValidationError{Field: "attemptId", Reason: "required"}
	}
	if len(answers) == 0 {
		return nil, &domain.ValidationError{Field: "answers", Reason: "at least one answer required"}
	}

	for try := 0; try < saveRetries; try++ {
		attempt, err := l.attempts.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if attempt.State != domain.AttemptInProgress {
			return nil, fmt.Errorf("%w: attempt is %s", domain.ErrStateConflict, attempt.State)
		}
		if expectedVersion != nil && *expectedVersion != attempt.AttemptVersion {
			return nil, fmt.Errorf("%w: have %d, want %d", domain.ErrVersionConflict, *expectedVersion, attempt.AttemptVersion)
		}

		merged := make(map[string]json.RawMessage, len(attempt.Answers)+len(answers))
		for k, v := range attempt.Answers {
			merged[k] = v
		}
		for k, v := range answers {
			merged[k] = v
		}

		savedAt := l.now().UTC()
		ok, err := l.attempts.SaveAnswers(ctx, id, attempt.AttemptVersion, merged, savedAt)
		if err != nil {
			return nil, err
		}
		if !ok {
			if expectedVersion != nil {
				return nil, fmt.Errorf("%w: version %d superseded", domain.ErrVersionConflict, *expectedVersion)
			}
			continue
		}

		attempt.Answers = merged
		attempt.AttemptVersion++
		attempt.LastSavedAt = &savedAt
		l.notify(attempt)
		return attempt, nil
	}
	return nil, fmt.Errorf("%w: save contention on attempt %s", domain.ErrVersionConflict, id)
}

// Finalize grades the snapshot against current answers and performs the one
// conditional update that resolves the race between a manual finish and the
// expiry sweep. The loser observes the winner's result: internal triggers
// treat it as a benign no-op and user triggers still get success with the
// already-finalized attempt.
func (l *Lifecycle) Finalize(ctx context.Context, id string, trigger domain.FinalizeTrigger) (*domain.Attempt, error) {
	attempt, err := l.attempts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if attempt.State != domain.AttemptInProgress {
		return l.observeTerminal(ctx, attempt, trigger)
	}

	strategy, err := l.registry.Resolve(attempt.Snapshot.QuizType)
	if err != nil {
		return nil, err
	}
	result, err := strategy.Grade(attempt.Snapshot, attempt.Answers)
	if err != nil {
		return nil, fmt.Errorf("grade attempt %s: %w", id, err)
	}

	finishedAt := l.now().UTC()
	won, err := l.attempts.Finalize(ctx, id, result, finishedAt)
	if err != nil {
		return nil, err
	}
	if !won {
		// The other trigger committed first; re-read its result.
		attempt, err = l.attempts.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return l.observeTerminal(ctx, attempt, trigger)
	}

	attempt.State = domain.AttemptFinalized
	attempt.FinishedAt = &finishedAt
	attempt.Score = &result.Total
	attempt.MaxScore = &result.Max
	attempt.Breakdown = result.PerItem
	attempt.AttemptVersion++

	if err := l.deadlines.Clear(ctx, id); err != nil {
		log.Printf("clear deadline for attempt %s: %v", id, err)
	}
	if err := l.emitter.AttemptFinalized(ctx, attempt, trigger); err != nil {
		// The state change is durable; surface the enqueue failure so the
		// caller retries, which re-derives the same event ID.
		return attempt, fmt.Errorf("enqueue finalized event for attempt %s: %w", id, err)
	}
	l.notify(attempt)
	return attempt, nil
}

// observeTerminal handles a finalize that arrived after the attempt left
// in_progress. Re-enqueueing the matching event here repairs a winner that
// crashed between its state write and its enqueue; the deterministic event
// ID makes the repair a no-op in the common case.
func (l *Lifecycle) observeTerminal(ctx context.Context, attempt *domain.Attempt, trigger domain.FinalizeTrigger) (*domain.Attempt, error) {
	switch attempt.State {
	case domain.AttemptFinalized:
		if err := l.emitter.AttemptFinalized(ctx, attempt, trigger); err != nil {
			return attempt, fmt.Errorf("re-enqueue finalized event for attempt %s: %w", attempt.ID, err)
		}
		return attempt, nil
	case domain.AttemptInvalidated:
		if trigger == domain.TriggerUser {
			return nil, fmt.Errorf("%w: attempt is invalidated", domain.ErrStateConflict)
		}
		return attempt, nil
	default:
		return attempt, nil
	}
}

// Invalidate retires an attempt whose quiz was deleted or replaced
// upstream. Idempotent via the store's conditional update; an already
// finalized attempt keeps its result.
func (l *Lifecycle) Invalidate(ctx context.Context, id string) (*domain.Attempt, error) {
	attempt, err := l.attempts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if attempt.State == domain.AttemptInProgress {
		at := l.now().UTC()
		won, err := l.attempts.Invalidate(ctx, id, at)
		if err != nil {
			return nil, err
		}
		if won {
			attempt.State = domain.AttemptInvalidated
			attempt.FinishedAt = &at
			attempt.AttemptVersion++
			if err := l.deadlines.Clear(ctx, id); err != nil {
				log.Printf("clear deadline for attempt %s: %v", id, err)
			}
			if err := l.emitter.AttemptInvalidated(ctx, attempt); err != nil {
				return attempt, fmt.Errorf("enqueue invalidated event for attempt %s: %w", id, err)
			}
			l.notify(attempt)
			return attempt, nil
		}
		attempt, err = l.attempts.Get(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	if attempt.State == domain.AttemptInvalidated {
		if err := l.emitter.AttemptInvalidated(ctx, attempt); err != nil {
			return attempt, fmt.Errorf("re-enqueue invalidated event for attempt %s: %w", attempt.ID, err)
		}
	}
	return attempt, nil
}

// InvalidateForQuiz cascades invalidation over every live attempt against
// quizID, returning how many attempts this call retired. Per-attempt
// failures are logged and skipped so one bad row cannot wedge the cascade.
func (l *Lifecycle) InvalidateForQuiz(ctx context.Context, quizID string, batch int) (int, error) {
	if quizID == "" {
		return 0, &domain.ValidationError{Field: "quizId", Reason: "required"}
	}
	if batch <= 0 {
		batch = 100
	}
	total := 0
	for {
		ids, err := l.attempts.ListInProgressByQuiz(ctx, quizID, batch)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		progressed := false
		for _, id := range ids {
			a, err := l.Invalidate(ctx, id)
			if err != nil {
				log.Printf("invalidate attempt %s for quiz %s: %v", id, quizID, err)
				continue
			}
			progressed = true
			if a.State == domain.AttemptInvalidated {
				total++
			}
		}
		if !progressed {
			return total, fmt.Errorf("invalidation cascade stalled for quiz %s", quizID)
		}
		if len(ids) < batch {
			return total, nil
		}
	}
}

func (l *Lifecycle) notify(a *domain.Attempt) {
	if l.notifier != nil {
		l.notifier.Publish(updateFor(a))
	}
}

func intrinsicDuration(snap domain.Snapshot) time.Duration {
	return time.Duration(snap.IntrinsicLimit) * time.Second
}
