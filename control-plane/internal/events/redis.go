package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/fleet-alerts/pkg/types"
)

const (
	// DefaultStream is the Redis stream events are appended to.
	DefaultStream = "fleetalerts:events"

	// DefaultStreamMaxLen caps the stream (approximate trimming).
	DefaultStreamMaxLen = 100000
)

// RedisPublisher appends events to a Redis stream.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher creates a publisher on an existing client.
func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisPublisher{
		client: client,
		stream: stream,
		maxLen: DefaultStreamMaxLen,
	}
}

// Publish implements Publisher. All events go out in one pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, events ...types.Event) error {
	if len(events) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.Name, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]any{
				"name":      e.Name,
				"tenant_id": e.TenantID,
				"alert_id":  e.AlertID,
				"event":     payload,
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish events to redis: %w", err)
	}
	return nil
}
