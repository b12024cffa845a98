package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"quiz-attempt-service/internal/domain"
)

// DefaultConfirmTimeout bounds how long a publish waits for the broker ack.
const DefaultConfirmTimeout = 5 * time.Second

// ErrPublishNacked is returned when the broker refuses the message; treated
// as transient since nacks usually mean temporary resource pressure.
var ErrPublishNacked = errors.New("message was nacked by broker")

// Publisher sends domain events to a RabbitMQ topic exchange in confirm
// mode. The routing key is the event topic; the partition key rides along as
// a header so per-entity ordering survives consumer-side sharding.
type Publisher struct {
	conn     *amqp.Connection
	exchange string
	timeout  time.Duration

	mu       sync.Mutex
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
}

// Dial connects, opens a confirm-mode channel and declares the exchange.
// The returned Publisher owns the connection; callers must Close it.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	p := &Publisher{conn: conn, exchange: exchange, timeout: DefaultConfirmTimeout}
	if err := p.resetChannel(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) resetChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("enable confirm mode: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare exchange %q: %w", p.exchange, err)
	}
	p.ch = ch
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return nil
}

// Publish sends payload on topic with the given partition key and waits for
// broker confirmation. A malformed payload is a PermanentDeliveryError;
// everything else is transient and safe to retry.
func (p *Publisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if !json.Valid(payload) {
		return &domain.PermanentDeliveryError{Reason: "payload is not valid JSON"}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.resetChannel(); err != nil {
			return err
		}
	}

	err := p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"partition-key": key},
		Body:         payload,
	})
	if err != nil {
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && isPermanentCode(amqpErr.Code) {
			return &domain.PermanentDeliveryError{Reason: "broker rejected publish", Err: err}
		}
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	select {
	case confirm, ok := <-p.confirms:
		if !ok {
			return errors.New("confirm channel closed")
		}
		if !confirm.Ack {
			return ErrPublishNacked
		}
		return nil
	case <-time.After(p.timeout):
		return fmt.Errorf("publish to %s: confirmation timed out", topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isPermanentCode reports whether an AMQP error code cannot be fixed by
// retrying the same message: access refused, unroutable, or a protocol
// precondition failure.
func isPermanentCode(code int) bool {
	switch code {
	case amqp.AccessRefused, amqp.NotFound, amqp.PreconditionFailed, amqp.FrameError, amqp.SyntaxError:
		return true
	default:
		return false
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}
