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

	"github.com/rabbitmq/amqp091-go"

	"ledger/internal/core"
	"ledger/internal/log"
	"ledger/internal/middleware/trace"
)

// Circuit breaker states.
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second

	// redialTimeout bounds a reconnect made from the publish path, handshake
	// included.
	redialTimeout  = 2 * time.Second
	// connectTimeout bounds the initial dial of commands.
	connectTimeout = 30 * time.Second
)

var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrReconnectBackoff = errors.New("waiting to reconnect")
)

// Publisher emits transaction events to a durable direct exchange. A
// dropped connection is redialed on a later publish once the backoff for the
// current failure count has elapsed.
type Publisher struct {
	url          string
	exchangeName string
	queueName    string
	logger       *log.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time
	redialing    atomic.Bool
}

// NewPublisher dials url and declares the exchange, queue and binding.
// The routing key doubles as the queue name.
func NewPublisher(url, exchangeName, routingKey string, logger *log.Logger) (*Publisher, error) {
	p := &Publisher{
		url:          url,
		exchangeName: exchangeName,
		queueName:    routingKey,
		logger:       logger.WithComponent(log.ComponentAMQP),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(connectTimeout); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connectLocked(timeout time.Duration) error {
	conn, channel, err := dial(p.url, p.exchangeName, p.queueName, timeout)
	if err != nil {
		return err
	}
	p.conn = conn
	p.channel = channel
	return nil
}

// dial opens a connection and channel with the exchange, queue and binding
// declared. timeout covers the TCP connect and the AMQP handshake.
func dial(url, exchange, queue string, timeout time.Duration) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.DialConfig(url, dialConfig(timeout))
	if err != nil {
		return nil, nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, exchange, queue); err != nil {
		channel.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return conn, channel, nil
}

func dialConfig(timeout time.Duration) amqp091.Config {
	return amqp091.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp091.DefaultDial(timeout),
	}
}

func setup(ch *amqp091.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// PublishTransactionCreated publishes a transaction.created event for tx.
func (p *Publisher) PublishTransactionCreated(ctx context.Context, tx core.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.isCircuitOpen() {
		return fmt.Errorf("publish transaction %d: %w", tx.ID, ErrCircuitOpen)
	}

	body, err := NewTransactionCreatedMessage(tx).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if err := p.publish(ctx, body); err != nil {
		p.recordFailure()
		return err
	}
	p.recordSuccess()

	p.logger.Fields(ctx, slog.LevelDebug, "Published transaction event", log.NewFields().
		WithOperation(log.OpPublish).
		WithTransaction(tx.ID).
		WithClient(tx.ClientID))
	return nil
}

func (p *Publisher) publish(ctx context.Context, body []byte) error {
	// Callers arriving during a redial fail fast instead of queueing on mu.
	if p.redialing.Load() {
		return fmt.Errorf("redial in progress: %w", ErrReconnectBackoff)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		if n := atomic.LoadInt64(&p.failureCount); n > 0 {
			wait := exponentialBackoff(int(n - 1))
			if since := time.Since(p.lastFailure); since < wait {
				return fmt.Errorf("reconnect in %v: %w", (wait - since).Round(time.Millisecond), ErrReconnectBackoff)
			}
		}
		p.redialing.Store(true)
		p.closeLocked()
		err := p.connectLocked(redialTimeout)
		p.redialing.Store(false)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.channel.PublishWithContext(ctx, p.exchangeName, p.queueName, false, false, newPublishing(ctx, body))
	if err != nil {
		if isConnectionError(err) {
			p.closeLocked()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// newPublishing wraps body as a persistent JSON message. The request id, when
// ctx carries one, travels as the correlation id.
func newPublishing(ctx context.Context, body []byte) amqp091.Publishing {
	return amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		CorrelationId: trace.GetRequestID(ctx),
		Timestamp:     time.Now(),
		Body:          body,
	}
}

func (p *Publisher) isCircuitOpen() bool {
	switch atomic.LoadInt32(&p.state) {
	case StateOpen:
		p.mu.Lock()
		last := p.lastFailure
		p.mu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.CompareAndSwapInt32(&p.state, StateOpen, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (p *Publisher) recordSuccess() {
	atomic.StoreInt64(&p.failureCount, 0)
	atomic.StoreInt32(&p.state, StateClosed)
}

func (p *Publisher) recordFailure() {
	p.mu.Lock()
	p.lastFailure = time.Now()
	p.mu.Unlock()

	if atomic.AddInt64(&p.failureCount, 1) >= maxFailures || atomic.LoadInt32(&p.state) == StateHalfOpen {
		atomic.StoreInt32(&p.state, StateOpen)
	}
}

// exponentialBackoff doubles from one second, capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection", "EOF", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (p *Publisher) closeLocked() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}
