package rabbitmq

import (
	"context"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/oneiros/internal/tasks"
)

const publishTimeout = 5 * time.Second

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	mu    sync.Mutex
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Publish sends env to the main queue.
func (p *Publisher) Publish(ctx context.Context, env tasks.Envelope) error {
	msg, err := publishing(env)
	if err != nil {
		return err
	}
	return p.send(ctx, p.queue, msg)
}

// PublishRetry parks env on the retry queue for delay, after which the broker
// dead-letters it back to the main queue.
func (p *Publisher) PublishRetry(ctx context.Context, env tasks.Envelope, delay time.Duration) error {
	msg, err := publishing(env)
	if err != nil {
		return err
	}
	msg.Expiration = expiration(delay)
	return p.send(ctx, retryQueue(p.queue), msg)
}

func (p *Publisher) send(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",         // default exchange
		routingKey, // routing key = queue
		false,
		false,
		msg,
	)
}

func publishing(env tasks.Envelope) (amqp.Publishing, error) {
	body, err := env.Encode()
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.TaskID,
		Type:         string(env.Kind),
		Body:         body,
		Timestamp:    time.Now(),
	}, nil
}

// expiration formats a per-message TTL in milliseconds.
func expiration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}

var _ tasks.Publisher = (*Publisher)(nil)
