package app

import (
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// AttemptUpdate is the in-process view pushed to watchers of one attempt.
type AttemptUpdate struct {
	AttemptID      string              `json:"attemptId"`
	State          domain.AttemptState `json:"state"`
	AttemptVersion int64               `json:"attemptVersion"`
	Score          *float64            `json:"score,omitempty"`
	MaxScore       *float64            `json:"maxScore,omitempty"`
	LastSavedAt    *time.Time          `json:"lastSavedAt,omitempty"`
	FinishedAt     *time.Time          `json:"finishedAt,omitempty"`
}

// Notifier fans attempt updates out to in-process subscribers (the WebSocket
// watch endpoint). Purely best-effort: delivery is per-process and slow
// watchers get the newest update, not a backlog.
type Notifier struct {
	mu   sync.RWMutex
	subs map[string]map[chan AttemptUpdate]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[chan AttemptUpdate]struct{})}
}

// Subscribe registers a watcher for attemptID. The caller must invoke the
// returned cancel function to avoid leaks.
func (n *Notifier) Subscribe(attemptID string) (<-chan AttemptUpdate, func()) {
	ch := make(chan AttemptUpdate, 8)

	n.mu.Lock()
	if n.subs[attemptID] == nil {
		n.subs[attemptID] = make(map[chan AttemptUpdate]struct{})
	}
	n.subs[attemptID][ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if set, ok := n.subs[attemptID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(n.subs, attemptID)
			}
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers u to every watcher of its attempt without blocking;
// a full channel drops the stale update in favor of the new one.
func (n *Notifier) Publish(u AttemptUpdate) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.subs[u.AttemptID] {
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- u:
			default:
			}
		}
	}
}

func updateFor(a *domain.Attempt) AttemptUpdate {
	return AttemptUpdate{
		AttemptID:      a.ID,
		State:          a.State,
		AttemptVersion: a.AttemptVersion,
		Score:          a.Score,
		MaxScore:       a.MaxScore,
		LastSavedAt:    a.LastSavedAt,
		FinishedAt:     a.FinishedAt,
	}
}
