// Package buffer provides a Redis-backed ingest buffer for drone telemetry.
// The API pushes readings here and the Flusher feeds them to the alert
// engine, so ingest keeps accepting traffic while the database is slow.
package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pilot-net/fleet-alerts/control-plane/internal/config"
	"github.com/pilot-net/fleet-alerts/pkg/types"
)

const (
	// Redis key for the telemetry queue
	keyTelemetry = "fleetalerts:telemetry"

	// Readings the engine rejected with a non-input error land here.
	keyDeadLetter = "fleetalerts:telemetry:dead"
)

// ErrBufferFull is returned by Push when the queue is at capacity.
var ErrBufferFull = errors.New("telemetry buffer full")

// TelemetryBuffer provides Redis-backed buffering for telemetry readings.
type TelemetryBuffer struct {
	client   *redis.Client
	logger   *slog.Logger
	maxDepth int64
}

// NewTelemetryBuffer connects to Redis and returns a buffer.
func NewTelemetryBuffer(redisURL string, logger *slog.Logger) (*TelemetryBuffer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), config.RedisConnectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewTelemetryBufferWithClient(client, logger), nil
}

// NewTelemetryBufferWithClient wraps an existing client.
func NewTelemetryBufferWithClient(client *redis.Client, logger *slog.Logger) *TelemetryBuffer {
	return &TelemetryBuffer{
		client:   client,
		logger:   logger.With("component", "telemetry_buffer"),
		maxDepth: config.BufferMaxQueueDepth,
	}
}

// Push adds readings to the buffer. The batch is rejected whole with
// ErrBufferFull when the queue is already at capacity.
func (b *TelemetryBuffer) Push(ctx context.Context, readings ...types.Telemetry) error {
	if len(readings) == 0 {
		return nil
	}

	depth, err := b.Len(ctx)
	if err != nil {
		return fmt.Errorf("check buffer depth: %w", err)
	}
	if depth+int64(len(readings)) > b.maxDepth {
		return ErrBufferFull
	}

	values := make([]any, len(readings))
	for i, r := range readings {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal telemetry: %w", err)
		}
		values[i] = data
	}

	if err := b.client.LPush(ctx, keyTelemetry, values...).Err(); err != nil {
		return fmt.Errorf("failed to push telemetry to redis: %w", err)
	}

	return nil
}

// Pop retrieves and removes up to max readings, oldest first.
func (b *TelemetryBuffer) Pop(ctx context.Context, max int) ([]types.Telemetry, error) {
	if max <= 0 {
		return nil, nil
	}

	// RPOP from the tail gives FIFO order against LPUSH
	pipe := b.client.Pipeline()
	cmds := make([]*redis.StringCmd, max)
	for i := 0; i < max; i++ {
		cmds[i] = pipe.RPop(ctx, keyTelemetry)
	}

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to pop telemetry from redis: %w", err)
	}

	readings := make([]types.Telemetry, 0, max)
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			continue
		}

		var r types.Telemetry
		if err := json.Unmarshal(data, &r); err != nil {
			b.logger.Warn("failed to unmarshal telemetry", "error", err)
			continue
		}
		readings = append(readings, r)
	}

	return readings, nil
}

// DeadLetter parks a reading the engine failed to process.
func (b *TelemetryBuffer) DeadLetter(ctx context.Context, reading types.Telemetry, cause error) error {
	data, err := json.Marshal(map[string]any{
		"reading": reading,
		"error":   cause.Error(),
	})
	if err != nil {
		return err
	}
	return b.client.LPush(ctx, keyDeadLetter, data).Err()
}

// DeadLetterLen returns the number of parked readings.
func (b *TelemetryBuffer) DeadLetterLen(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, keyDeadLetter).Result()
}

// Len returns the number of buffered readings.
func (b *TelemetryBuffer) Len(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, keyTelemetry).Result()
}

// GetStats reports queue depth for the health endpoint.
func (b *TelemetryBuffer) GetStats(ctx context.Context) (types.BufferStats, error) {
	depth, err := b.Len(ctx)
	if err != nil {
		return types.BufferStats{}, err
	}
	return types.BufferStats{QueueDepth: depth, Connected: true}, nil
}

// Close closes the Redis connection.
func (b *TelemetryBuffer) Close() error {
	return b.client.Close()
}
