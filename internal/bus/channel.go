// Package bus provides event bus implementations for Kestrel.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// requestTimeout caps how long Request waits when the caller's context
// carries no deadline.
const requestTimeout = 30 * time.Second

// ChannelBus routes claim pipeline events through in-process channels.
// It is the Community tier bus: one process, no broker, delivery is
// best effort when a subscriber falls behind.
type ChannelBus struct {
	mu      sync.RWMutex
	buffer  int
	subs    map[string][]*chanSub
	closed  bool
	dropped int64
}

type chanSub struct {
	id       string
	tenantID string
	topic    string
	handler  domain.MessageHandler
	inbox    chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewChannelBus creates a bus whose subscribers each buffer up to
// bufferSize undelivered messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		buffer: bufferSize,
		subs:   make(map[string][]*chanSub),
	}
}

// newEnvelope wraps a payload in the message form both bus backends
// put on the wire.
func newEnvelope(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

// Publish fans the payload out to every subscriber of the tenant's
// topic. A subscriber whose inbox is full misses this message; the
// drop is counted and logged rather than blocking the pipeline.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	targets := b.subs[tenantID+":"+topic]
	b.mu.RUnlock()

	msg := newEnvelope(tenantID, topic, payload)
	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			slog.Warn("subscriber inbox full, message dropped",
				"tenant_id", tenantID,
				"topic", topic,
			)
		}
	}
	return nil
}

// Subscribe registers handler for the tenant's topic and starts a
// goroutine draining its inbox. Cancel ctx or call Unsubscribe to stop.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &chanSub{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		inbox:    make(chan *domain.Message, b.buffer),
		ctx:      subCtx,
		cancel:   cancel,
	}
	go sub.drain()

	key := tenantID + ":" + topic
	b.subs[key] = append(b.subs[key], sub)
	return sub, nil
}

// drain feeds inbox messages to the handler until the subscription
// context ends. Handler errors are the handler's problem; the next
// message is delivered regardless.
func (s *chanSub) drain() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if msg != nil {
				_ = s.handler(s.ctx, msg)
			}
		}
	}
}

// Request publishes the payload and waits for one reply on a private
// reply topic. Used for synchronous checks over the same bus.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	replyCh := make(chan []byte, 1)
	replyTopic := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, replyTopic, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("request timeout")
	}
}

// Ping reports bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription. Further Publish and Subscribe calls
// fail.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.subs = make(map[string][]*chanSub)
	return nil
}

// Dropped returns how many messages were discarded because a
// subscriber's inbox was full.
func (b *ChannelBus) Dropped() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Unsubscribe stops the subscription's drain goroutine.
func (s *chanSub) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *chanSub) Topic() string {
	return s.topic
}
