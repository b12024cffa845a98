package domain

import (
	"encoding/json"
	"time"
)

// AttemptState is the lifecycle state of an attempt.
type AttemptState string

const (
	AttemptInProgress  AttemptState = "in_progress"
	AttemptFinalized   AttemptState = "finalized"
	AttemptInvalidated AttemptState = "invalidated"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s AttemptState) IsTerminal() bool {
	return s == AttemptFinalized || s == AttemptInvalidated
}

// CanTransitionTo reports whether the attempt state machine allows s -> next.
// Only in_progress has outgoing edges; both destinations are terminal.
func (s AttemptState) CanTransitionTo(next AttemptState) bool {
	if s != AttemptInProgress {
		return false
	}
	return next == AttemptFinalized || next == AttemptInvalidated
}

// FinalizeTrigger identifies which path requested finalization.
type FinalizeTrigger string

const (
	// TriggerUser is an explicit "finish" call from the student.
	TriggerUser FinalizeTrigger = "user"
	// TriggerExpiry is the background deadline sweep.
	TriggerExpiry FinalizeTrigger = "expiry"
)

// ItemScore is the per-item grading breakdown entry.
type ItemScore struct {
	ItemID  string          `json:"itemId"`
	Awarded float64         `json:"awarded"`
	Max     float64         `json:"max"`
	Meta    json.RawMessage `json:"meta,omitempty"`
}

// GradeResult is the outcome of grading a snapshot against answers.
type GradeResult struct {
	PerItem []ItemScore `json:"perItem"`
	Total   float64     `json:"total"`
	Max     float64     `json:"max"`
}

// Snapshot is the immutable render/grading spec captured when an attempt
// starts. Grading only ever reads the snapshot, so in-flight attempts are
// isolated from concurrent quiz edits.
type Snapshot struct {
	QuizType    string          `json:"quizType"`
	RenderSpec  json.RawMessage `json:"renderSpec"`
	GradingKey  json.RawMessage `json:"gradingKey"`
	ContentHash string          `json:"contentHash"`
	// IntrinsicLimit is the quiz's own time budget in seconds; zero means
	// the quiz carries no intrinsic limit.
	IntrinsicLimit int             `json:"intrinsicLimitSec"`
	Meta           json.RawMessage `json:"meta,omitempty"`
}

// Attempt is one student's run against a specific quiz version.
type Attempt struct {
	ID          string
	QuizID      string
	QuizRootID  string
	QuizVersion int
	StudentID   string
	ClassID     string
	ScheduleID  string

	State       AttemptState
	StartedAt   time.Time
	LastSavedAt *time.Time
	FinishedAt  *time.Time

	Answers   map[string]json.RawMessage
	Score     *float64
	MaxScore  *float64
	Breakdown []ItemScore

	Snapshot Snapshot

	// AttemptVersion strictly increases on every mutation and backs
	// optimistic concurrency on answer submission.
	AttemptVersion int64
}

// Clone returns a deep copy so in-memory stores never hand out aliased maps.
func (a *Attempt) Clone() *Attempt {
	cp := *a
	if a.Answers != nil {
		cp.Answers = make(map[string]json.RawMessage, len(a.Answers))
		for k, v := range a.Answers {
			cp.Answers[k] = append(json.RawMessage(nil), v...)
		}
	}
	if a.Breakdown != nil {
		cp.Breakdown = append([]ItemScore(nil), a.Breakdown...)
	}
	if a.LastSavedAt != nil {
		t := *a.LastSavedAt
		cp.LastSavedAt = &t
	}
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		cp.FinishedAt = &t
	}
	if a.Score != nil {
		v := *a.Score
		cp.Score = &v
	}
	if a.MaxScore != nil {
		v := *a.MaxScore
		cp.MaxScore = &v
	}
	return &cp
}
