package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ledger/internal/core"

	"github.com/rabbitmq/amqp091-go"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxRetries     = 3
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

// ErrReject tells ConsumeImports to drop a message instead of requeueing it.
// Handlers wrap it around failures that a redelivery cannot fix.
var ErrReject = errors.New("message rejected")

// Client publishes ledger events to a topic exchange and consumes import
// messages from a durable queue bound to the same exchange.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	eventsKey    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	// Circuit breaker
	state        int32
	failureCount int64
	lastFailure  time.Time
}

// NewClient connects and declares the exchange and import queue.
// eventsKey is the routing key prefix for ledger events.
func NewClient(url, exchangeName, queueName, eventsKey string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		eventsKey:    eventsKey,
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	c.conn = conn
	c.channel = channel

	if err := c.setup(); err != nil {
		c.closeLocked()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}
	return nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Import producers publish with the queue name as routing key.
	err = c.channel.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

func (c *Client) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// exponentialBackoff returns the wait before retry attempt (0-based):
// 1s doubling, capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	return min(time.Second<<attempt, maxBackoff)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe", "use of closed network connection"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// publish sends body with retries, reconnecting after connection errors.
func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, refusing to publish to %s", routingKey)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(exponentialBackoff(attempt - 1)):
			}
		}

		if !c.connected() {
			if err := c.connect(); err != nil {
				lastErr = err
				c.recordFailure()
				slog.WarnContext(ctx, "AMQP reconnect failed", "attempt", attempt+1, "error", err)
				continue
			}
			slog.InfoContext(ctx, "AMQP connection re-established", "exchange", c.exchangeName)
		}

		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := c.currentChannel().PublishWithContext(
			pubCtx,
			c.exchangeName, // exchange
			routingKey,     // routing key
			false,          // mandatory
			false,          // immediate
			amqp091.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp091.Persistent,
				Timestamp:    time.Now(),
				Body:         body,
			},
		)
		cancel()
		if err == nil {
			c.recordSuccess()
			return nil
		}

		lastErr = err
		c.recordFailure()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isConnectionError(err) {
			break
		}
		slog.WarnContext(ctx, "AMQP publish failed, retrying",
			"attempt", attempt+1,
			"routing_key", routingKey,
			"error", err)
	}
	return fmt.Errorf("publish message: %w", lastErr)
}

// PublishLedgerEvent publishes e under "<eventsKey>.<event type>".
func (c *Client) PublishLedgerEvent(ctx context.Context, e core.LedgerEvent) error {
	msg := NewLedgerEventMessage(e)
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := c.eventsKey + "." + string(e.Type)
	if err := c.publish(ctx, key, body); err != nil {
		return err
	}

	slog.DebugContext(ctx, "Published ledger event",
		"message_id", msg.ID,
		"type", e.Type,
		"routing_key", key,
		"exchange", c.exchangeName)
	return nil
}

// PublishImport enqueues an import message on the import queue.
func (c *Client) PublishImport(ctx context.Context, m *ImportMessage) error {
	body, err := m.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return c.publish(ctx, c.queueName, body)
}

// ConsumeImports delivers import messages to handler until ctx ends.
// Undecodable messages and handler errors wrapping ErrReject are dropped;
// any other handler error requeues the message.
func (c *Client) ConsumeImports(ctx context.Context, handler func(context.Context, *ImportMessage) error) error {
	ch := c.currentChannel()
	if ch == nil {
		return fmt.Errorf("start consuming: %w", amqp091.ErrClosed)
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming import messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Client) handleDelivery(ctx context.Context, d amqp091.Delivery, handler func(context.Context, *ImportMessage) error) {
	msg, err := ImportMessageFromJSON(d.Body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to unmarshal import message", "error", err)
		d.Nack(false, false)
		return
	}

	err = handler(ctx, msg)
	switch {
	case err == nil:
		d.Ack(false)
	case errors.Is(err, ErrReject):
		slog.WarnContext(ctx, "Import message rejected",
			"account_id", msg.AccountID,
			"error", err)
		d.Nack(false, false)
	default:
		slog.ErrorContext(ctx, "Failed to handle import message, requeueing",
			"account_id", msg.AccountID,
			"error", err)
		d.Nack(false, true)
	}
}

func (c *Client) closeLocked() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp091.ErrClosed) {
			errs = append(errs, err)
		}
		c.conn = nil
	}
	return errors.Join(errs...)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}
