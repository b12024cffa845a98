package worker

import (
	"context"
	"log"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Broker is the message transport the publisher drains the outbox into.
// Implementations mark unretryable rejections with
// domain.PermanentDeliveryError; every other failure is transient.
type Broker interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// PublisherConfig tunes the outbox drain loop.
type PublisherConfig struct {
	Interval    time.Duration
	Batch       int
	StaleLease  time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.Batch <= 0 {
		c.Batch = 50
	}
	if c.StaleLease <= 0 {
		c.StaleLease = time.Minute
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	return c
}

// OutboxPublisher leases pending outbox rows and publishes them to the
// broker. Replicas exclude each other through the lease's conditional
// pending->publishing transition; a replica that dies mid-send is covered
// by the stale-lease reclaim at the start of every tick.
type OutboxPublisher struct {
	outbox app.OutboxStore
	broker Broker
	cfg    PublisherConfig
	now    func() time.Time
}

func NewOutboxPublisher(outbox app.OutboxStore, broker Broker, cfg PublisherConfig) *OutboxPublisher {
	return &OutboxPublisher{
		outbox: outbox,
		broker: broker,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// WithClock is test-only for deterministic ticks.
func (p *OutboxPublisher) WithClock(now func() time.Time) *OutboxPublisher {
	p.now = now
	return p
}

// Run ticks at a fixed interval until ctx is canceled.
func (p *OutboxPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one recovery + drain pass and returns how many events it
// published.
func (p *OutboxPublisher) Tick(ctx context.Context) int {
	now := p.now().UTC()

	if n, err := p.outbox.ReclaimStale(ctx, now.Add(-p.cfg.StaleLease), now); err != nil {
		log.Printf("outbox publisher: reclaim stale leases: %v", err)
	} else if n > 0 {
		log.Printf("outbox publisher: reclaimed %d stale leases", n)
	}

	batch, err := p.outbox.DueBatch(ctx, now, p.cfg.Batch)
	if err != nil {
		log.Printf("outbox publisher: select due events: %v", err)
		return 0
	}

	published := 0
	for i := range batch {
		if p.publishOne(ctx, &batch[i]) {
			published++
		}
	}
	return published
}

func (p *OutboxPublisher) publishOne(ctx context.Context, ev *domain.OutboxEvent) bool {
	now := p.now().UTC()
	leased, err := p.outbox.Lease(ctx, ev.ID, now)
	if err != nil {
		log.Printf("outbox publisher: lease event %s: %v", ev.ID, err)
		return false
	}
	if !leased {
		// Another publisher replica claimed it first.
		return false
	}

	// Topic comes from the event type, ordering key from the primary
	// entity, preserving per-entity delivery order across partitions.
	err = p.broker.Publish(ctx, ev.EventType, ev.PartitionKey, ev.Payload)
	now = p.now().UTC()
	switch {
	case err == nil:
		if err := p.outbox.MarkPublished(ctx, ev.ID, now); err != nil {
			// The lease stays in place; the stale reclaim re-queues it and
			// the consumer dedups the re-delivery.
			log.Printf("outbox publisher: mark event %s published: %v", ev.ID, err)
			return false
		}
		return true
	case domain.IsPermanentDelivery(err):
		log.Printf("outbox publisher: event %s dead-lettered: %v", ev.ID, err)
		if err := p.outbox.MarkDead(ctx, ev.ID, err.Error(), now); err != nil {
			log.Printf("outbox publisher: mark event %s dead: %v", ev.ID, err)
		}
		return false
	default:
		next := now.Add(nextBackoff(p.cfg.BackoffBase, p.cfg.BackoffCap, ev.Attempts))
		if err2 := p.outbox.Reschedule(ctx, ev.ID, err.Error(), next, now); err2 != nil {
			log.Printf("outbox publisher: reschedule event %s: %v", ev.ID, err2)
		}
		return false
	}
}

// nextBackoff is base * 2^attempts capped at max, with overflow protection.
func nextBackoff(base, max time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempts < 0 {
		attempts = 0
	}
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
