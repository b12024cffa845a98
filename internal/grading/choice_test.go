package grading

import (
	"encoding/json"
	"reflect"
	"testing"

	"quiz-attempt-service/internal/domain"
)

func TestChoiceBuildSpecAndGrade(t *testing.T) {
	snap, err := (ChoiceStrategy{}).BuildSpec(sampleQuiz())
	if err != nil {
		t.Fatalf("build spec: %v", err)
	}
	if snap.QuizType != TypeChoice {
		t.Fatalf("expected quiz type %q, got %q", TypeChoice, snap.QuizType)
	}
	if snap.IntrinsicLimit != 300 {
		t.Fatalf("expected intrinsic limit 300, got %d", snap.IntrinsicLimit)
	}
	if snap.ContentHash == "" {
		t.Fatalf("expected non-empty content hash")
	}

	answers := map[string]json.RawMessage{
		"q1": json.RawMessage(`"o2"`), // correct
		"q2": json.RawMessage(`"o1"`), // wrong
	}
	result, err := (ChoiceStrategy{}).Grade(snap, answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if result.Total != 1 || result.Max != 3 {
		t.Fatalf("expected 1/3, got %v/%v", result.Total, result.Max)
	}
	if len(result.PerItem) != 2 {
		t.Fatalf("expected 2 breakdown entries, got %d", len(result.PerItem))
	}
}

func TestGradeEmptyAnswersScoresZero(t *testing.T) {
	snap, err := (ChoiceStrategy{}).BuildSpec(sampleQuiz())
	if err != nil {
		t.Fatalf("build spec: %v", err)
	}
	result, err := (ChoiceStrategy{}).Grade(snap, nil)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if result.Total != 0 || result.Max != 3 {
		t.Fatalf("expected 0/3, got %v/%v", result.Total, result.Max)
	}
}

func TestGradeIsDeterministic(t *testing.T) {
	snap, err := (ChoiceStrategy{}).BuildSpec(sampleQuiz())
	if err != nil {
		t.Fatalf("build spec: %v", err)
	}
	answers := map[string]json.RawMessage{"q1": json.RawMessage(`"o2"`)}

	first, err := (ChoiceStrategy{}).Grade(snap, answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	// Re-grading the stored (snapshot, answers) pair must reproduce the
	// persisted result exactly.
	for i := 0; i < 10; i++ {
		again, err := (ChoiceStrategy{}).Grade(snap, answers)
		if err != nil {
			t.Fatalf("re-grade: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("grade not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestGradeIgnoresMalformedAnswerPayload(t *testing.T) {
	snap, err := (ChoiceStrategy{}).BuildSpec(sampleQuiz())
	if err != nil {
		t.Fatalf("build spec: %v", err)
	}
	answers := map[string]json.RawMessage{"q1": json.RawMessage(`{"not":"a string"}`)}
	result, err := (ChoiceStrategy{}).Grade(snap, answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if result.Total != 0 {
		t.Fatalf("malformed payload should score 0, got %v", result.Total)
	}
}

func TestBuildSpecRejectsKeylessItem(t *testing.T) {
	doc := sampleQuiz()
	doc.Items[0].Options[1].Correct = false
	if _, err := (ChoiceStrategy{}).BuildSpec(doc); err == nil {
		t.Fatalf("expected error for item without a correct option")
	}
}

func TestTimedIntrinsicIsSumOfItemLimits(t *testing.T) {
	doc := sampleQuiz()
	doc.Type = TypeTimed
	doc.Items[0].TimeLimitSec = 45
	doc.Items[1].TimeLimitSec = 30
	// q3 omits a limit and falls back to the default.
	snap, err := (TimedStrategy{}).BuildSpec(doc)
	if err != nil {
		t.Fatalf("build spec: %v", err)
	}
	want := 45 + 30 + defaultItemSeconds
	if snap.IntrinsicLimit != want {
		t.Fatalf("expected intrinsic limit %d, got %d", want, snap.IntrinsicLimit)
	}
}

func TestRegistryResolvesByTag(t *testing.T) {
	r := DefaultRegistry()
	if _, err := r.Resolve(TypeChoice); err != nil {
		t.Fatalf("resolve choice: %v", err)
	}
	if _, err := r.Resolve(TypeTimed); err != nil {
		t.Fatalf("resolve timed: %v", err)
	}
	if _, err := r.Resolve("crossword"); err == nil {
		t.Fatalf("expected unknown type error")
	}
}

func sampleQuiz() domain.QuizDoc {
	return domain.QuizDoc{
		ID:           "quiz-1",
		RootID:       "quiz-1",
		Version:      1,
		Type:         TypeChoice,
		Title:        "Sample",
		TimeLimitSec: 300,
		Items: []domain.Item{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
				},
				Points: 1,
			},
			{
				ID:     "q2",
				Prompt: "Pick the even number",
				Options: []domain.Option{
					{ID: "o1", Text: "7"},
					{ID: "o2", Text: "8", Correct: true},
				},
				Points: 1,
			},
			{
				ID:     "q3",
				Prompt: "Pick the prime",
				Options: []domain.Option{
					{ID: "o1", Text: "9"},
					{ID: "o2", Text: "11", Correct: true},
				},
				Points: 1,
			},
		},
	}
}
