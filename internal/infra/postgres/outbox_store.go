package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"quiz-attempt-service/internal/domain"
)

type outboxRow struct {
	bun.BaseModel `bun:"table:outbox_events,alias:e"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid"`
	EventType     string     `bun:"event_type"`
	PartitionKey  string     `bun:"partition_key"`
	Payload       []byte     `bun:"payload,type:jsonb"`
	Status        string     `bun:"status"`
	Attempts      int        `bun:"attempts"`
	NextAttemptAt time.Time  `bun:"next_attempt_at"`
	LeasedAt      *time.Time `bun:"leased_at"`
	PublishedAt   *time.Time `bun:"published_at"`
	LastError     string     `bun:"last_error"`
	CreatedAt     time.Time  `bun:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at"`
}

// OutboxStore is the durable event log. Leasing and outcome transitions are
// conditional UPDATEs on the current status so concurrently running
// publishers exclude each other without locks.
type OutboxStore struct {
	db *bun.DB
}

func NewOutboxStore(db *bun.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Enqueue(ctx context.Context, ev *domain.OutboxEvent) error {
	row := &outboxRow{
		ID:            ev.ID,
		EventType:     ev.EventType,
		PartitionKey:  ev.PartitionKey,
		Payload:       ev.Payload,
		Status:        string(ev.Status),
		Attempts:      ev.Attempts,
		NextAttemptAt: ev.NextAttemptAt,
		LastError:     ev.LastError,
		CreatedAt:     ev.CreatedAt,
		UpdatedAt:     ev.UpdatedAt,
	}
	// Insert-or-ignore on the event ID: a duplicate enqueue is a success.
	_, err := s.db.NewInsert().Model(row).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue outbox event: %w", err)
	}
	return nil
}

func (s *OutboxStore) Get(ctx context.Context, id uuid.UUID) (*domain.OutboxEvent, error) {
	row := new(outboxRow)
	err := s.db.NewSelect().Model(row).Where("e.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox event: %w", err)
	}
	return fromOutboxRow(row), nil
}

func (s *OutboxStore) DueBatch(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error) {
	var rows []outboxRow
	err := s.db.NewSelect().Model(&rows).
		Where("e.status = ?", string(domain.OutboxPending)).
		Where("e.next_attempt_at <= ?", now).
		Order("e.created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select due outbox events: %w", err)
	}
	events := make([]domain.OutboxEvent, 0, len(rows))
	for i := range rows {
		events = append(events, *fromOutboxRow(&rows[i]))
	}
	return events, nil
}

func (s *OutboxStore) Lease(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*outboxRow)(nil)).
		Set("status = ?", string(domain.OutboxPublishing)).
		Set("leased_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", string(domain.OutboxPending)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("lease outbox event: %w", err)
	}
	return oneRow(res)
}

func (s *OutboxStore) MarkPublished(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.db.NewUpdate().Model((*outboxRow)(nil)).
		Set("status = ?", string(domain.OutboxPublished)).
		Set("published_at = ?", now).
		Set("leased_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", string(domain.OutboxPublishing)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

func (s *OutboxStore) MarkDead(ctx context.Context, id uuid.UUID, cause string, now time.Time) error {
	_, err := s.db.NewUpdate().Model((*outboxRow)(nil)).
		Set("status = ?", string(domain.OutboxDead)).
		Set("last_error = ?", cause).
		Set("leased_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", string(domain.OutboxPublishing)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark outbox event dead: %w", err)
	}
	return nil
}

func (s *OutboxStore) Reschedule(ctx context.Context, id uuid.UUID, cause string, next, now time.Time) error {
	_, err := s.db.NewUpdate().Model((*outboxRow)(nil)).
		Set("status = ?", string(domain.OutboxPending)).
		Set("attempts = attempts + 1").
		Set("last_error = ?", cause).
		Set("next_attempt_at = ?", next).
		Set("leased_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", string(domain.OutboxPublishing)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reschedule outbox event: %w", err)
	}
	return nil
}

func (s *OutboxStore) ReclaimStale(ctx context.Context, leasedBefore, now time.Time) (int, error) {
	res, err := s.db.NewUpdate().Model((*outboxRow)(nil)).
		Set("status = ?", string(domain.OutboxPending)).
		Set("next_attempt_at = ?", now).
		Set("leased_at = NULL").
		Set("updated_at = ?", now).
		Where("status = ?", string(domain.OutboxPublishing)).
		Where("leased_at < ?", leasedBefore).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale outbox leases: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func fromOutboxRow(row *outboxRow) *domain.OutboxEvent {
	return &domain.OutboxEvent{
		ID:            row.ID,
		EventType:     row.EventType,
		PartitionKey:  row.PartitionKey,
		Payload:       row.Payload,
		Status:        domain.OutboxStatus(row.Status),
		Attempts:      row.Attempts,
		NextAttemptAt: row.NextAttemptAt,
		LeasedAt:      row.LeasedAt,
		PublishedAt:   row.PublishedAt,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
