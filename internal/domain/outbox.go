package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus is the delivery state of an outbox event.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxPublishing OutboxStatus = "publishing"
	OutboxPublished  OutboxStatus = "published"
	OutboxDead       OutboxStatus = "dead"
)

// CanTransitionTo encodes the outbox status lifecycle:
// pending -> publishing -> {published | pending | dead}.
// publishing is a lease; falling back to pending is a retry or a reclaim.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch s {
	case OutboxPending:
		return next == OutboxPublishing
	case OutboxPublishing:
		return next == OutboxPublished || next == OutboxPending || next == OutboxDead
	default:
		// published and dead are terminal for the publisher; dead is
		// resolved by an operator outside this lifecycle.
		return false
	}
}

// Event types carried through the outbox.
const (
	EventAttemptFinalized   = "attempt.finalized"
	EventAttemptInvalidated = "attempt.invalidated"
)

// OutboxEvent is a durable record of a domain event awaiting delivery.
// The caller-generated ID doubles as the dedup key: re-enqueueing the same
// ID is a no-op, which makes producers safe to retry.
type OutboxEvent struct {
	ID            uuid.UUID
	EventType     string
	PartitionKey  string
	Payload       json.RawMessage
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	LeasedAt      *time.Time
	PublishedAt   *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
