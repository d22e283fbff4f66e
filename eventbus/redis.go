package eventbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/workflow-engine/common/logger"
)

// RedisSink publishes events to Redis: each event is appended to a stream
// named after the topic for durable consumers, and mirrored on a pub/sub
// channel for live listeners.
type RedisSink struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisSink creates a Redis-backed sink
func NewRedisSink(client *redis.Client, log *logger.Logger) *RedisSink {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisSink{client: client, log: log}
}

// Publish appends the payload to the topic's stream and notifies pub/sub
// subscribers
func (s *RedisSink) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"key":     key,
			"payload": payload,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add event to stream %s: %w", topic, err)
	}

	if err := s.client.Publish(ctx, topic, payload).Err(); err != nil {
		// Stream write succeeded; pub/sub is a best-effort mirror
		s.log.Warn("redis PUBLISH failed after XADD", "topic", topic, "stream_id", id, "error", err)
	}

	s.log.Debug("event published", "topic", topic, "key", key, "stream_id", id)
	return nil
}

// Close closes the Redis connection
func (s *RedisSink) Close() error {
	return s.client.Close()
}
