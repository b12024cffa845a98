package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestDeadlineIndexScheduleAndPoll(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	idx := NewDeadlineIndex(newClient(mr))
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := idx.Schedule(ctx, "a1", base.Add(time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := idx.Schedule(ctx, "a2", base.Add(3*time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	due, err := idx.PollDue(ctx, base, 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("nothing due yet, got %v", due)
	}

	due, err = idx.PollDue(ctx, base.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(due) != 1 || due[0] != "a1" {
		t.Fatalf("expected [a1], got %v", due)
	}

	// a1 was claimed by removal; only a2 remains.
	due, err = idx.PollDue(ctx, base.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(due) != 1 || due[0] != "a2" {
		t.Fatalf("expected [a2], got %v", due)
	}
}

func TestDeadlineIndexReschedulesInPlace(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	idx := NewDeadlineIndex(newClient(mr))
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// A second Schedule for the same attempt replaces the score instead of
	// duplicating the member.
	if err := idx.Schedule(ctx, "a1", base.Add(time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := idx.Schedule(ctx, "a1", base.Add(time.Hour)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	due, err := idx.PollDue(ctx, base.Add(5*time.Minute), 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("rescheduled deadline must not fire early, got %v", due)
	}

	due, err = idx.PollDue(ctx, base.Add(2*time.Hour), 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(due) != 1 || due[0] != "a1" {
		t.Fatalf("expected [a1] at the new deadline, got %v", due)
	}
}

func TestDeadlineIndexClear(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	idx := NewDeadlineIndex(newClient(mr))
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := idx.Schedule(ctx, "a1", base); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := idx.Clear(ctx, "a1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	// Clearing an absent member is a no-op, matching the best-effort call
	// sites after finalization.
	if err := idx.Clear(ctx, "a1"); err != nil {
		t.Fatalf("second clear: %v", err)
	}

	due, err := idx.PollDue(ctx, base.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("cleared deadline must not fire, got %v", due)
	}
}

func TestDeadlineIndexPollHonorsLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	idx := NewDeadlineIndex(newClient(mr))
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"a1", "a2", "a3"} {
		if err := idx.Schedule(ctx, id, base); err != nil {
			t.Fatalf("schedule %s: %v", id, err)
		}
	}

	due, err := idx.PollDue(ctx, base.Add(time.Minute), 2)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected limit of 2, got %v", due)
	}

	rest, err := idx.PollDue(ctx, base.Add(time.Minute), 2)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected the remaining entry, got %v", rest)
	}
}
