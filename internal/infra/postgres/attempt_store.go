package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-attempt-service/internal/domain"
)

// pgUniqueViolation is the Postgres error code for unique constraint hits.
const pgUniqueViolation = "23505"

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID          string `bun:"id,pk"`
	QuizID      string `bun:"quiz_id"`
	QuizRootID  string `bun:"quiz_root_id"`
	QuizVersion int    `bun:"quiz_version"`
	StudentID   string `bun:"student_id"`
	ClassID     string `bun:"class_id"`
	ScheduleID  string `bun:"schedule_id"`

	State       string     `bun:"state"`
	StartedAt   time.Time  `bun:"started_at"`
	LastSavedAt *time.Time `bun:"last_saved_at"`
	FinishedAt  *time.Time `bun:"finished_at"`

	Answers   json.RawMessage `bun:"answers,type:jsonb"`
	Score     *float64        `bun:"score"`
	MaxScore  *float64        `bun:"max_score"`
	Breakdown json.RawMessage `bun:"breakdown,type:jsonb"`
	Snapshot  json.RawMessage `bun:"snapshot,type:jsonb"`

	AttemptVersion int64 `bun:"attempt_version"`
}

// AttemptStore persists attempts in Postgres. Every mutation is one
// conditional UPDATE; RowsAffected tells the caller whether it won.
type AttemptStore struct {
	db *bun.DB
}

func NewAttemptStore(db *bun.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) Insert(ctx context.Context, a *domain.Attempt) error {
	row, err := toAttemptRow(a)
	if err != nil {
		return err
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		var pgErr pgdriver.Error
		if errors.As(err, &pgErr) && pgErr.Field('C') == pgUniqueViolation {
			return fmt.Errorf("%w: student %s schedule %s", domain.ErrDuplicateAttempt, a.StudentID, a.ScheduleID)
		}
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (*domain.Attempt, error) {
	row := new(attemptRow)
	err := s.db.NewSelect().Model(row).Where("a.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return fromAttemptRow(row)
}

func (s *AttemptStore) FindInProgress(ctx context.Context, studentID, scheduleID string) (*domain.Attempt, error) {
	row := new(attemptRow)
	err := s.db.NewSelect().Model(row).
		Where("a.student_id = ?", studentID).
		Where("a.schedule_id = ?", scheduleID).
		Where("a.state = ?", string(domain.AttemptInProgress)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find in-progress attempt: %w", err)
	}
	return fromAttemptRow(row)
}

func (s *AttemptStore) ListInProgressByQuiz(ctx context.Context, quizID string, limit int) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().Model((*attemptRow)(nil)).
		Column("a.id").
		Where("a.quiz_id = ?", quizID).
		Where("a.state = ?", string(domain.AttemptInProgress)).
		Order("a.started_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("list in-progress attempts: %w", err)
	}
	return ids, nil
}

func (s *AttemptStore) SaveAnswers(ctx context.Context, id string, expectedVersion int64, answers map[string]json.RawMessage, savedAt time.Time) (bool, error) {
	raw, err := json.Marshal(answers)
	if err != nil {
		return false, fmt.Errorf("marshal answers: %w", err)
	}
	res, err := s.db.NewUpdate().Model((*attemptRow)(nil)).
		Set("answers = ?", string(raw)).
		Set("last_saved_at = ?", savedAt).
		Set("attempt_version = attempt_version + 1").
		Where("id = ?", id).
		Where("state = ?", string(domain.AttemptInProgress)).
		Where("attempt_version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("save answers: %w", err)
	}
	return oneRow(res)
}

func (s *AttemptStore) Finalize(ctx context.Context, id string, result domain.GradeResult, finishedAt time.Time) (bool, error) {
	breakdown, err := json.Marshal(result.PerItem)
	if err != nil {
		return false, fmt.Errorf("marshal breakdown: %w", err)
	}
	res, err := s.db.NewUpdate().Model((*attemptRow)(nil)).
		Set("state = ?", string(domain.AttemptFinalized)).
		Set("finished_at = ?", finishedAt).
		Set("score = ?", result.Total).
		Set("max_score = ?", result.Max).
		Set("breakdown = ?", string(breakdown)).
		Set("attempt_version = attempt_version + 1").
		Where("id = ?", id).
		Where("state = ?", string(domain.AttemptInProgress)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("finalize attempt: %w", err)
	}
	return oneRow(res)
}

func (s *AttemptStore) Invalidate(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*attemptRow)(nil)).
		Set("state = ?", string(domain.AttemptInvalidated)).
		Set("finished_at = ?", at).
		Set("attempt_version = attempt_version + 1").
		Where("id = ?", id).
		Where("state = ?", string(domain.AttemptInProgress)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("invalidate attempt: %w", err)
	}
	return oneRow(res)
}

func oneRow(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func toAttemptRow(a *domain.Attempt) (*attemptRow, error) {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return nil, fmt.Errorf("marshal answers: %w", err)
	}
	breakdown, err := json.Marshal(a.Breakdown)
	if err != nil {
		return nil, fmt.Errorf("marshal breakdown: %w", err)
	}
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return &attemptRow{
		ID:             a.ID,
		QuizID:         a.QuizID,
		QuizRootID:     a.QuizRootID,
		QuizVersion:    a.QuizVersion,
		StudentID:      a.StudentID,
		ClassID:        a.ClassID,
		ScheduleID:     a.ScheduleID,
		State:          string(a.State),
		StartedAt:      a.StartedAt,
		LastSavedAt:    a.LastSavedAt,
		FinishedAt:     a.FinishedAt,
		Answers:        answers,
		Score:          a.Score,
		MaxScore:       a.MaxScore,
		Breakdown:      breakdown,
		Snapshot:       snapshot,
		AttemptVersion: a.AttemptVersion,
	}, nil
}

func fromAttemptRow(row *attemptRow) (*domain.Attempt, error) {
	a := &domain.Attempt{
		ID:             row.ID,
		QuizID:         row.QuizID,
		QuizRootID:     row.QuizRootID,
		QuizVersion:    row.QuizVersion,
		StudentID:      row.StudentID,
		ClassID:        row.ClassID,
		ScheduleID:     row.ScheduleID,
		State:          domain.AttemptState(row.State),
		StartedAt:      row.StartedAt,
		LastSavedAt:    row.LastSavedAt,
		FinishedAt:     row.FinishedAt,
		Score:          row.Score,
		MaxScore:       row.MaxScore,
		AttemptVersion: row.AttemptVersion,
	}
	if len(row.Answers) > 0 {
		if err := json.Unmarshal(row.Answers, &a.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	if a.Answers == nil {
		a.Answers = map[string]json.RawMessage{}
	}
	if len(row.Breakdown) > 0 {
		if err := json.Unmarshal(row.Breakdown, &a.Breakdown); err != nil {
			return nil, fmt.Errorf("unmarshal breakdown: %w", err)
		}
	}
	if len(row.Snapshot) > 0 {
		if err := json.Unmarshal(row.Snapshot, &a.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	return a, nil
}
