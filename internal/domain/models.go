package domain

// Option represents a possible answer for a choice item.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Item models a single gradable quiz item.
type Item struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Points  float64  `json:"points"` // defaults to 1 if zero
	// TimeLimitSec bounds this item for per-item-timed quiz types; ignored
	// by types with a whole-quiz limit.
	TimeLimitSec int `json:"timeLimitSec,omitempty"`
}

// QuizDoc is the authored quiz document as stored in the catalog. The
// attempt core never branches on its type-specific fields directly; it hands
// the document to the registered grading strategy for the quiz's type tag.
type QuizDoc struct {
	ID     string `json:"id"`
	RootID string `json:"rootId"`
	// Version counts published revisions of the same root quiz.
	Version int    `json:"version"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Items   []Item `json:"items"`
	// TimeLimitSec is the whole-quiz budget; zero means none.
	TimeLimitSec int `json:"timeLimitSec,omitempty"`
}
