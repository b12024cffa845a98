package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// ExpiryWorker sweeps the deadline index and finalizes overdue attempts.
// Any number of replicas may run concurrently: the index claim splits the
// batch between them and the attempt store's conditional finalize settles
// whatever the claim does not.
type ExpiryWorker struct {
	deadlines app.DeadlineIndex
	lifecycle *app.Lifecycle
	interval  time.Duration
	batch     int
	now       func() time.Time
}

func NewExpiryWorker(deadlines app.DeadlineIndex, lifecycle *app.Lifecycle, interval time.Duration, batch int) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &ExpiryWorker{
		deadlines: deadlines,
		lifecycle: lifecycle,
		interval:  interval,
		batch:     batch,
		now:       time.Now,
	}
}

// WithClock is test-only for deterministic ticks.
func (w *ExpiryWorker) WithClock(now func() time.Time) *ExpiryWorker {
	w.now = now
	return w
}

// Run ticks at a fixed interval until ctx is canceled. Each tick is
// self-contained, so an overlapping slow tick cannot corrupt state.
func (w *ExpiryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick claims due deadlines and finalizes each attempt, returning how many
// it finalized. Per-item failures are logged without aborting the batch.
func (w *ExpiryWorker) Tick(ctx context.Context) int {
	ids, err := w.deadlines.PollDue(ctx, w.now(), w.batch)
	if err != nil {
		log.Printf("expiry worker: poll due deadlines: %v", err)
		return 0
	}

	finalized := 0
	for _, id := range ids {
		if _, err := w.lifecycle.Finalize(ctx, id, domain.TriggerExpiry); err != nil {
			if errors.Is(err, domain.ErrAttemptNotFound) {
				// Stale index entry; the attempt is gone or never landed.
				continue
			}
			log.Printf("expiry worker: finalize attempt %s: %v", id, err)
			continue
		}
		finalized++
	}
	return finalized
}
