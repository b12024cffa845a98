package app

import "time"

// DeadlinePolicy bounds how long an attempt may stay in_progress.
type DeadlinePolicy struct {
	// Ceiling is the hard safety cap; no attempt outlives it.
	Ceiling time.Duration
	// Grace is added on top of the earliest candidate deadline so a student
	// submitting at the buzzer is not cut off by clock skew.
	Grace time.Duration
	// MinTTL keeps already-past deadlines schedulable: the next worker tick
	// still processes them.
	MinTTL time.Duration
}

// DefaultDeadlinePolicy mirrors the config defaults.
func DefaultDeadlinePolicy() DeadlinePolicy {
	return DeadlinePolicy{
		Ceiling: 4 * time.Hour,
		Grace:   5 * time.Second,
		MinTTL:  time.Second,
	}
}

// TTL computes how long from now the attempt may keep running. Candidates
// are the quiz-intrinsic duration and the schedule close time, both measured
// against startedAt; the earliest present candidate wins, the ceiling always
// applies, and the result is clamped to (0, Ceiling].
func (p DeadlinePolicy) TTL(now, startedAt time.Time, intrinsic time.Duration, closeAt *time.Time) time.Duration {
	deadline := startedAt.Add(p.Ceiling)
	if intrinsic > 0 {
		if d := startedAt.Add(intrinsic); d.Before(deadline) {
			deadline = d
		}
	}
	if closeAt != nil && closeAt.Before(deadline) {
		deadline = *closeAt
	}
	deadline = deadline.Add(p.Grace)

	ttl := deadline.Sub(now)
	if ttl < p.MinTTL {
		ttl = p.MinTTL
	}
	if ttl > p.Ceiling {
		ttl = p.Ceiling
	}
	return ttl
}

// Deadline is the absolute form of TTL.
func (p DeadlinePolicy) Deadline(now, startedAt time.Time, intrinsic time.Duration, closeAt *time.Time) time.Time {
	return now.Add(p.TTL(now, startedAt, intrinsic, closeAt))
}
