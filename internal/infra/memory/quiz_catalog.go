package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// QuizLoader fetches quiz documents from a backing store.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.QuizDoc, error)
}

// StaticQuizLoader serves a fixed set of quiz documents; used for dev mode
// and tests.
type StaticQuizLoader struct {
	quizzes map[string]domain.QuizDoc
}

func NewStaticQuizLoader(quizzes map[string]domain.QuizDoc) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.QuizDoc, error) {
	doc, ok := l.quizzes[quizID]
	if !ok {
		return domain.QuizDoc{}, domain.ErrQuizNotFound
	}
	return doc, nil
}

// QuizCatalog is an in-process catalog cache over a loader.
type QuizCatalog struct {
	loader QuizLoader
	mu     sync.RWMutex
	cache  map[string]domain.QuizDoc
}

func NewQuizCatalog(loader QuizLoader) *QuizCatalog {
	return &QuizCatalog{loader: loader, cache: make(map[string]domain.QuizDoc)}
}

func (c *QuizCatalog) GetQuiz(ctx context.Context, quizID string) (domain.QuizDoc, error) {
	c.mu.RLock()
	doc, ok := c.cache[quizID]
	c.mu.RUnlock()
	if ok {
		return doc, nil
	}
	doc, err := c.loader.LoadQuiz(ctx, quizID)
	if err != nil {
		return domain.QuizDoc{}, err
	}
	c.mu.Lock()
	c.cache[quizID] = doc
	c.mu.Unlock()
	return doc, nil
}
