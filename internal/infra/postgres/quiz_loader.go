package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-attempt-service/internal/domain"
)

// QuizLoader loads authored quiz documents (JSONB) from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.QuizDoc, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizDoc{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.QuizDoc{}, fmt.Errorf("load quiz: %w", err)
	}
	var doc domain.QuizDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.QuizDoc{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	if doc.ID == "" {
		doc.ID = quizID
	}
	return doc, nil
}
