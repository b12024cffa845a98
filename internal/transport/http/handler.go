package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Handler exposes the attempt lifecycle over HTTP.
type Handler struct {
	lifecycle *app.Lifecycle
}

func NewHandler(lifecycle *app.Lifecycle) *Handler {
	return &Handler{lifecycle: lifecycle}
}

// Register mounts the attempt routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /attempts", h.startAttempt)
	mux.HandleFunc("GET /attempts/{id}", h.getAttempt)
	mux.HandleFunc("POST /attempts/{id}/answers", h.submitAnswers)
	mux.HandleFunc("POST /attempts/{id}/finish", h.finishAttempt)
	mux.HandleFunc("POST /quizzes/{id}/invalidate-attempts", h.invalidateQuiz)
}

type startRequest struct {
	QuizID          string     `json:"quizId"`
	StudentID       string     `json:"studentId"`
	ClassID         string     `json:"classId"`
	ScheduleID      string     `json:"scheduleId"`
	ScheduleCloseAt *time.Time `json:"scheduleCloseAt,omitempty"`
}

type submitRequest struct {
	Answers         map[string]json.RawMessage `json:"answers"`
	ExpectedVersion *int64                     `json:"expectedVersion,omitempty"`
}

type attemptResponse struct {
	ID             string                     `json:"id"`
	QuizID         string                     `json:"quizId"`
	QuizVersion    int                        `json:"quizVersion"`
	StudentID      string                     `json:"studentId"`
	ScheduleID     string                     `json:"scheduleId"`
	State          domain.AttemptState        `json:"state"`
	StartedAt      time.Time                  `json:"startedAt"`
	LastSavedAt    *time.Time                 `json:"lastSavedAt,omitempty"`
	FinishedAt     *time.Time                 `json:"finishedAt,omitempty"`
	Answers        map[string]json.RawMessage `json:"answers"`
	Score          *float64                   `json:"score,omitempty"`
	MaxScore       *float64                   `json:"maxScore,omitempty"`
	Breakdown      []domain.ItemScore         `json:"breakdown,omitempty"`
	RenderSpec     json.RawMessage            `json:"renderSpec"`
	AttemptVersion int64                      `json:"attemptVersion"`
}

func (h *Handler) startAttempt(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	attempt, err := h.lifecycle.Start(r.Context(), app.StartInput{
		QuizID:          req.QuizID,
		StudentID:       req.StudentID,
		ClassID:         req.ClassID,
		ScheduleID:      req.ScheduleID,
		ScheduleCloseAt: req.ScheduleCloseAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttemptResponse(attempt))
}

func (h *Handler) getAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptResponse(attempt))
}

func (h *Handler) submitAnswers(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	attempt, err := h.lifecycle.SubmitAnswers(r.Context(), r.PathValue("id"), req.Answers, req.ExpectedVersion)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptResponse(attempt))
}

func (h *Handler) finishAttempt(w http.ResponseWriter, r *http.Request) {
	// A finish that loses the race to the expiry sweep still succeeds with
	// the already-finalized result.
	attempt, err := h.lifecycle.Finalize(r.Context(), r.PathValue("id"), domain.TriggerUser)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptResponse(attempt))
}

func (h *Handler) invalidateQuiz(w http.ResponseWriter, r *http.Request) {
	count, err := h.lifecycle.InvalidateForQuiz(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": count})
}

func toAttemptResponse(a *domain.Attempt) attemptResponse {
	return attemptResponse{
		ID:             a.ID,
		QuizID:         a.QuizID,
		QuizVersion:    a.QuizVersion,
		StudentID:      a.StudentID,
		ScheduleID:     a.ScheduleID,
		State:          a.State,
		StartedAt:      a.StartedAt,
		LastSavedAt:    a.LastSavedAt,
		FinishedAt:     a.FinishedAt,
		Answers:        a.Answers,
		Score:          a.Score,
		MaxScore:       a.MaxScore,
		Breakdown:      a.Breakdown,
		RenderSpec:     a.Snapshot.RenderSpec,
		AttemptVersion: a.AttemptVersion,
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsValidation(err):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAttemptNotFound), errors.Is(err, domain.ErrQuizNotFound):
		httpError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrStateConflict):
		httpError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUnknownQuizType):
		httpError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		httpError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
