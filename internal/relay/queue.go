package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/celerix-dev/assessment-bridge/internal/platform/logger"
	"github.com/celerix-dev/assessment-bridge/pkg/schema"
)

// attemptsHeader counts delivery attempts of a queued notification.
const attemptsHeader = "x-relay-attempts"

// Delivery is the queued form of a notification.
type Delivery struct {
	URL          string              `json:"url"`
	Notification schema.Notification `json:"notification"`
}

// QueueNotifier publishes notifications to a durable RabbitMQ queue instead
// of calling the webhook directly. A Consumer drains the queue, which turns
// the relay into at-least-once delivery with a bounded retry budget. Failed
// deliveries wait out their backoff in a companion "<queue>.retry" queue whose
// expired messages dead-letter back onto the main queue.
type QueueNotifier struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
	retryQ  amqp.Queue
	mu      sync.Mutex // amqp channels must not publish concurrently
}

// DialQueue connects to RabbitMQ and declares the queue and its retry queue.
func DialQueue(url, queue string) (*QueueNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("relay: connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: open channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		queue, // queue name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("relay: declare queue: %w", err)
	}

	retryQ, err := ch.QueueDeclare(
		queue+".retry",
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": queue,
		},
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("relay: declare retry queue: %w", err)
	}

	return &QueueNotifier{conn: conn, channel: ch, queue: q, retryQ: retryQ}, nil
}

// Notify enqueues the notification.
func (q *QueueNotifier) Notify(ctx context.Context, url string, n schema.Notification) error {
	if url == "" {
		return ErrNoDestination
	}
	return q.publish(ctx, q.queue.Name, Delivery{URL: url, Notification: n}, 0, "")
}

// retry parks d in the retry queue for delay before it comes back to the
// main queue with the given attempt count.
func (q *QueueNotifier) retry(ctx context.Context, d Delivery, attempts int, delay time.Duration) error {
	return q.publish(ctx, q.retryQ.Name, d, attempts, strconv.FormatInt(delay.Milliseconds(), 10))
}

func (q *QueueNotifier) publish(ctx context.Context, key string, d Delivery, attempts int, expiration string) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.channel.PublishWithContext(
		ctx,
		"",  // exchange
		key, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{attemptsHeader: int32(attempts)},
			Expiration:   expiration,
			Body:         body,
		},
	)
}

// Close releases the channel and connection.
func (q *QueueNotifier) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	chErr := q.channel.Close()
	connErr := q.conn.Close()
	return errors.Join(chErr, connErr)
}

// Consumer drains a QueueNotifier and hands every delivery to Deliver. Up to
// Prefetch deliveries are in flight at once, so one slow webhook does not
// hold up the rest of the queue.
type Consumer struct {
	Queue       *QueueNotifier
	Deliver     Notifier
	Log         *logger.Logger
	MaxAttempts int
	Backoff     time.Duration
	Prefetch    int

	// requeue schedules a failed delivery for another attempt. Nil means
	// Queue.retry.
	requeue func(ctx context.Context, d Delivery, attempts int, delay time.Duration) error
}

// Run consumes until ctx is cancelled or the channel closes. It returns once
// every in-flight delivery has been acked or nacked.
func (c *Consumer) Run(ctx context.Context) error {
	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}

	c.Queue.mu.Lock()
	if err := c.Queue.channel.Qos(prefetch, 0, false); err != nil {
		c.Queue.mu.Unlock()
		return fmt.Errorf("relay: set prefetch: %w", err)
	}
	msgs, err := c.Queue.channel.ConsumeWithContext(
		ctx,
		c.Queue.queue.Name,
		"",
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	c.Queue.mu.Unlock()
	if err != nil {
		return fmt.Errorf("relay: register consumer: %w", err)
	}

	c.consume(ctx, msgs, prefetch)
	return nil
}

// consume dispatches every message to its own goroutine, at most limit at a
// time.
func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery, limit int) {
	var wg sync.WaitGroup
	defer wg.Wait()

	sem := make(chan struct{}, limit)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				c.handle(ctx, m)
			}()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m amqp.Delivery) {
	log := c.Log
	if log == nil {
		log = logger.Nop()
	}
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	d, err := decodeDelivery(m.Body)
	if err != nil {
		log.Warn("dropping malformed relay message", "error", err)
		m.Nack(false, false)
		return
	}

	attempts := attemptsOf(m.Headers) + 1
	err = c.Deliver.Notify(ctx, d.URL, d.Notification)
	if err == nil || errors.Is(err, ErrNoDestination) {
		m.Ack(false)
		return
	}

	// Shutting down: hand the message back without spending an attempt.
	if ctx.Err() != nil {
		m.Nack(false, true)
		return
	}

	log.Warn("webhook delivery failed", "assessment_id", d.Notification.ID, "url", d.URL, "attempt", attempts, "error", err)
	if attempts >= maxAttempts {
		log.Error("giving up on webhook delivery", "assessment_id", d.Notification.ID, "attempts", attempts)
		m.Ack(false)
		return
	}

	requeue := c.requeue
	if requeue == nil {
		requeue = c.Queue.retry
	}
	if err := requeue(ctx, d, attempts, backoff(c.Backoff, attempts)); err != nil {
		log.Error("requeue webhook delivery failed", "assessment_id", d.Notification.ID, "error", err)
		m.Nack(false, true)
		return
	}
	m.Ack(false)
}
func decodeDelivery(body []byte) (Delivery, error) {
	var d Delivery
	if err := json.Unmarshal(body, &d); err != nil {
		return Delivery{}, err
	}
	if d.URL == "" || d.Notification.ID == "" {
		return Delivery{}, fmt.Errorf("relay: delivery missing url or id")
	}
	return d, nil
}

func attemptsOf(headers amqp.Table) int {
	switch v := headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// backoff doubles base per attempt, capped at one minute.
func backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= time.Minute {
			return time.Minute
		}
	}
	return d
}
