package grading

import (
	"encoding/json"
	"fmt"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// Strategy is the pluggable grading contract for one quiz type.
//
// BuildSpec turns an authored quiz document into an immutable snapshot
// (render spec + grading key + content hash); Grade scores a snapshot
// against submitted answers. Both must be pure: re-grading a stored
// (snapshot, answers) pair offline must reproduce the persisted score.
type Strategy interface {
	BuildSpec(doc domain.QuizDoc) (domain.Snapshot, error)
	Grade(snap domain.Snapshot, answers map[string]json.RawMessage) (domain.GradeResult, error)
}

// Registry maps quiz-type tags to grading strategies. Strategies are
// registered once at startup; the attempt core resolves by tag and never
// branches on type-specific fields itself.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register binds a strategy to a quiz-type tag, replacing any previous one.
func (r *Registry) Register(quizType string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[quizType] = s
}

// Resolve returns the strategy for quizType.
func (r *Registry) Resolve(quizType string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[quizType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownQuizType, quizType)
	}
	return s, nil
}

// DefaultRegistry returns a registry with the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeChoice, ChoiceStrategy{})
	r.Register(TypeTimed, TimedStrategy{})
	return r
}
