package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/oneiros/internal/tasks"
)

// Runner executes one decoded task and says what to do with the delivery.
type Runner interface {
	Run(ctx context.Context, env tasks.Envelope) tasks.Outcome
}

// Retrier republishes a task for a later attempt.
type Retrier interface {
	PublishRetry(ctx context.Context, env tasks.Envelope, delay time.Duration) error
}

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	retryDelay  time.Duration
	retrier     Retrier
	log         zerolog.Logger
}

func NewConsumer(url, queue string, concurrency int, retryDelay time.Duration, retrier Retrier, log zerolog.Logger) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:        conn,
		ch:          ch,
		queue:       queue,
		concurrency: concurrency,
		retryDelay:  retryDelay,
		retrier:     retrier,
		log:         log,
	}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx is cancelled or the delivery channel closes, then
// waits for in-flight tasks. Tasks already running are not cancelled with ctx;
// buffered deliveries that have not started are requeued.
func (c *Consumer) Run(ctx context.Context, r Runner) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	c.log.Info().Str("queue", c.queue).Int("concurrency", c.concurrency).Msg("worker started")

	// worker pool
	jobs := make(chan amqp.Delivery, c.concurrency*2)
	taskCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, taskCtx, workerID, r, d)
			}
		}(i)
	}

	// dispatcher
	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("worker shutting down")
			break loop

		case d, ok := <-msgs:
			if !ok {
				runErr = errors.New("delivery channel closed")
				break loop
			}
			jobs <- d
		}
	}
	close(jobs)
	wg.Wait()
	return runErr
}

func (c *Consumer) handle(ctx, taskCtx context.Context, workerID int, r Runner, d amqp.Delivery) {
	log := c.log.With().Int("worker", workerID).Str("message_id", d.MessageId).Logger()

	if ctx.Err() != nil {
		// shutting down: leave it for the next worker
		_ = d.Nack(false, true)
		return
	}

	env, err := tasks.Decode(d.Body)
	if err != nil {
		log.Error().Err(err).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}

	switch r.Run(taskCtx, env) {
	case tasks.Ack:
		if err := d.Ack(false); err != nil {
			log.Error().Err(err).Msg("ack failed")
		}

	case tasks.Retry:
		next := env.Next()
		delay := c.retryDelay * time.Duration(env.Attempt)
		if err := c.retrier.PublishRetry(taskCtx, next, delay); err != nil {
			log.Error().Err(err).Msg("republish for retry failed, requeueing")
			_ = d.Nack(false, true)
			return
		}
		log.Info().Int("next_attempt", next.Attempt).Dur("delay", delay).Msg("task scheduled for retry")
		_ = d.Ack(false)

	default:
		// dead-letters to the DLQ
		_ = d.Nack(false, false)
	}
}
