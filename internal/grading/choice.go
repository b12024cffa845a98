package grading

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"quiz-attempt-service/internal/domain"
)

// TypeChoice is the quiz-type tag for single-answer MCQ quizzes with a
// whole-quiz time limit.
const TypeChoice = "choice"

// itemKey is one grading-key entry: the correct option and its weight.
type itemKey struct {
	Correct string  `json:"correct"`
	Points  float64 `json:"points"`
}

// renderItem is the student-facing view of an item, correct flags stripped.
type renderItem struct {
	ID           string  `json:"id"`
	Prompt       string  `json:"prompt"`
	OptionIDs    []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"options"`
	Points       float64 `json:"points"`
	TimeLimitSec int     `json:"timeLimitSec,omitempty"`
}

// ChoiceStrategy grades single-answer MCQ quizzes: an answer payload is the
// JSON-encoded selected option ID.
type ChoiceStrategy struct{}

func (ChoiceStrategy) BuildSpec(doc domain.QuizDoc) (domain.Snapshot, error) {
	return buildChoiceSpec(doc, TypeChoice, doc.TimeLimitSec)
}

func (ChoiceStrategy) Grade(snap domain.Snapshot, answers map[string]json.RawMessage) (domain.GradeResult, error) {
	return gradeByKey(snap, answers)
}

func buildChoiceSpec(doc domain.QuizDoc, quizType string, intrinsicSec int) (domain.Snapshot, error) {
	if len(doc.Items) == 0 {
		return domain.Snapshot{}, &domain.ValidationError{Field: "items", Reason: "quiz has no items"}
	}

	key := make(map[string]itemKey, len(doc.Items))
	render := make([]renderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		correct := firstCorrectOption(item)
		if correct == "" {
			return domain.Snapshot{}, &domain.ValidationError{
				Field:  "items",
				Reason: fmt.Sprintf("item %q has no correct option", item.ID),
			}
		}
		points := item.Points
		if points == 0 {
			points = 1
		}
		key[item.ID] = itemKey{Correct: correct, Points: points}

		ri := renderItem{ID: item.ID, Prompt: item.Prompt, Points: points, TimeLimitSec: item.TimeLimitSec}
		for _, opt := range item.Options {
			ri.OptionIDs = append(ri.OptionIDs, struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			}{ID: opt.ID, Text: opt.Text})
		}
		render = append(render, ri)
	}

	keyJSON, err := json.Marshal(key)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("marshal grading key: %w", err)
	}
	renderJSON, err := json.Marshal(render)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("marshal render spec: %w", err)
	}

	return domain.Snapshot{
		QuizType:       quizType,
		RenderSpec:     renderJSON,
		GradingKey:     keyJSON,
		ContentHash:    contentHash(doc.ID, doc.Version, keyJSON),
		IntrinsicLimit: intrinsicSec,
	}, nil
}

// gradeByKey scores answers against the snapshot's grading key. Unanswered
// and unrecognized items award zero; the max always covers every keyed item
// so an empty submission still yields a full breakdown.
func gradeByKey(snap domain.Snapshot, answers map[string]json.RawMessage) (domain.GradeResult, error) {
	var key map[string]itemKey
	if err := json.Unmarshal(snap.GradingKey, &key); err != nil {
		return domain.GradeResult{}, fmt.Errorf("unmarshal grading key: %w", err)
	}

	itemIDs := make([]string, 0, len(key))
	for id := range key {
		itemIDs = append(itemIDs, id)
	}
	sort.Strings(itemIDs)

	result := domain.GradeResult{PerItem: make([]domain.ItemScore, 0, len(itemIDs))}
	for _, id := range itemIDs {
		k := key[id]
		awarded := 0.0
		if raw, ok := answers[id]; ok {
			var selected string
			if err := json.Unmarshal(raw, &selected); err == nil && selected == k.Correct {
				awarded = k.Points
			}
		}
		result.PerItem = append(result.PerItem, domain.ItemScore{ItemID: id, Awarded: awarded, Max: k.Points})
		result.Total += awarded
		result.Max += k.Points
	}
	return result, nil
}

func firstCorrectOption(item domain.Item) string {
	for _, opt := range item.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

func contentHash(quizID string, version int, keyJSON []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d:", quizID, version)
	h.Write(keyJSON)
	return hex.EncodeToString(h.Sum(nil))
}
