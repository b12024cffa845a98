package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

// QuizCatalog caches quiz documents in Redis (one JSON blob per quiz) and
// falls back to a loader on cache miss. Singleflight collapses concurrent
// misses for the same quiz into one backing-store load.
type QuizCatalog struct {
	client *redis.Client
	loader memory.QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizCatalog(client *redis.Client, loader memory.QuizLoader, ttl time.Duration) *QuizCatalog {
	return &QuizCatalog{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCatalog) GetQuiz(ctx context.Context, quizID string) (domain.QuizDoc, error) {
	key := c.key(quizID)

	if doc, ok := c.fromCache(ctx, key); ok {
		return doc, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if doc, ok := c.fromCache(ctx, key); ok {
			return doc, nil
		}

		doc, err := c.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.QuizDoc{}, err
		}

		raw, err := json.Marshal(doc)
		if err != nil {
			return domain.QuizDoc{}, fmt.Errorf("marshal quiz doc: %w", err)
		}
		_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		return doc, nil
	})
	if err != nil {
		return domain.QuizDoc{}, err
	}
	return result.(domain.QuizDoc), nil
}

func (c *QuizCatalog) fromCache(ctx context.Context, key string) (domain.QuizDoc, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.QuizDoc{}, false
	}
	var doc domain.QuizDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.QuizDoc{}, false
	}
	return doc, true
}

func (c *QuizCatalog) key(quizID string) string {
	return "quiz:" + quizID + ":doc"
}

func (c *QuizCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
