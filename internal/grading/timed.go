package grading

import (
	"encoding/json"

	"quiz-attempt-service/internal/domain"
)

// TypeTimed is the quiz-type tag for per-item-timed quizzes: each item
// carries its own time limit and the quiz's intrinsic duration is their sum.
const TypeTimed = "timed"

// defaultItemSeconds applies to items that omit a time limit.
const defaultItemSeconds = 60

// TimedStrategy grades like ChoiceStrategy but derives the intrinsic time
// budget from the per-item limits instead of a whole-quiz limit.
type TimedStrategy struct{}

func (TimedStrategy) BuildSpec(doc domain.QuizDoc) (domain.Snapshot, error) {
	total := 0
	for _, item := range doc.Items {
		sec := item.TimeLimitSec
		if sec <= 0 {
			sec = defaultItemSeconds
		}
		total += sec
	}
	return buildChoiceSpec(doc, TypeTimed, total)
}

func (TimedStrategy) Grade(snap domain.Snapshot, answers map[string]json.RawMessage) (domain.GradeResult, error) {
	return gradeByKey(snap, answers)
}
