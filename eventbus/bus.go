package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lyzr/workflow-engine/common/logger"
	"github.com/lyzr/workflow-engine/common/metrics"
	"github.com/lyzr/workflow-engine/model"
)

// Sink delivers serialized events to a topic
type Sink interface {
	Publish(ctx context.Context, topic string, key string, payload []byte) error
	Close() error
}

// Handler processes a delivered event
type Handler func(ctx context.Context, key string, payload []byte) error

// Bus publishes lifecycle events through a sink. Publishing is best-effort:
// a sink failure is logged and never fails the workflow operation that
// produced the event.
type Bus struct {
	sink    Sink
	log     *logger.Logger
	metrics *metrics.Metrics
}

// Opts configures a Bus
type Opts struct {
	Sink    Sink
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// NewBus creates an event bus over the given sink
func NewBus(opts Opts) *Bus {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Sink == nil {
		opts.Sink = NewMemorySink(opts.Logger)
	}
	return &Bus{
		sink:    opts.Sink,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
}

// Publish serializes an event and delivers it to the topic
func (b *Bus) Publish(ctx context.Context, topic string, event *model.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Error("failed to serialize event", "topic", topic, "event_type", event.Type, "error", err)
		return
	}

	if err := b.sink.Publish(ctx, topic, event.ExecutionID, payload); err != nil {
		b.log.Error("failed to publish event",
			"topic", topic,
			"event_type", event.Type,
			"execution_id", event.ExecutionID,
			"error", err)
		return
	}

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(topic).Inc()
	}
}

// Close closes the underlying sink
func (b *Bus) Close() error {
	return b.sink.Close()
}

// MemorySink is an in-memory sink with buffered per-topic channels.
// Publish never blocks: when a topic buffer is full the event is dropped
// with a warning.
type MemorySink struct {
	topics map[string]chan *message
	mu     sync.RWMutex
	closed bool
	log    *logger.Logger
}

type message struct {
	key     string
	payload []byte
}

// NewMemorySink creates an in-memory sink
func NewMemorySink(log *logger.Logger) *MemorySink {
	if log == nil {
		log = logger.Nop()
	}
	return &MemorySink{
		topics: make(map[string]chan *message),
		log:    log,
	}
}

func (s *MemorySink) topicChan(topic string) chan *message {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, exists := s.topics[topic]
	if !exists {
		ch = make(chan *message, 1000)
		s.topics[topic] = ch
	}
	return ch
}

// Publish delivers a payload to a topic without blocking. The lock is held
// across the send so a concurrent Close cannot close the channel mid-send.
func (s *MemorySink) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	ch, exists := s.topics[topic]
	if !exists {
		ch = make(chan *message, 1000)
		s.topics[topic] = ch
	}

	select {
	case ch <- &message{key: key, payload: payload}:
	default:
		s.log.Warn("event topic buffer full, dropping event", "topic", topic)
	}
	return nil
}

// Subscribe processes a topic's events on a background goroutine until the
// context is cancelled
func (s *MemorySink) Subscribe(ctx context.Context, topic string, handler Handler) {
	ch := s.topicChan(topic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, msg.key, msg.payload); err != nil {
					s.log.Error("event handler error", "topic", topic, "key", msg.key, "error", err)
				}
			}
		}
	}()
}

// Close closes all topic channels
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, ch := range s.topics {
		close(ch)
	}
	return nil
}
