package http

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
)

// WatchHandler streams attempt state changes over a websocket so clients
// see saves and the finalize (manual or expiry-driven) without polling.
type WatchHandler struct {
	lifecycle *app.Lifecycle
	notifier  *app.Notifier
	upgrader  websocket.Upgrader
}

func NewWatchHandler(lifecycle *app.Lifecycle, notifier *app.Notifier) *WatchHandler {
	return &WatchHandler{
		lifecycle: lifecycle,
		notifier:  notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWatch upgrades the request and pushes one update per state change,
// starting with a snapshot of the current state.
func (h *WatchHandler) ServeWatch(w http.ResponseWriter, r *http.Request) {
	attemptID := r.PathValue("id")

	attempt, err := h.lifecycle.Get(r.Context(), attemptID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.notifier.Subscribe(attemptID)
	defer cancel()

	initial := app.AttemptUpdate{
		AttemptID:      attempt.ID,
		State:          attempt.State,
		AttemptVersion: attempt.AttemptVersion,
		Score:          attempt.Score,
		MaxScore:       attempt.MaxScore,
		LastSavedAt:    attempt.LastSavedAt,
		FinishedAt:     attempt.FinishedAt,
	}
	if err := conn.WriteJSON(initial); err != nil {
		return
	}

	// Reader goroutine only notices the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
			if update.State.IsTerminal() {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
