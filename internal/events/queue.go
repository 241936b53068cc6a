// internal/events/queue.go
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creditledger/internal/domain"
	"creditledger/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ProviderEventQueue = "ledger:provider_events"
	ProcessingQueue    = "ledger:provider_events:processing"
	DeadLetterQueue    = "ledger:provider_events:dlq"
)

// RedisQueue is a FIFO of raw provider events backed by a Redis list.
// A popped event is parked in ProcessingQueue until it is acked, so an
// event in flight when the worker dies is delivered again on restart.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisClient connects to Redis. url may be a redis:// URL or a bare host:port.
func NewRedisClient(ctx context.Context, url, password string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url, Password: password}
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opt.Addr, err)
	}
	return client, nil
}

// NewRedisQueue creates a queue on client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Enqueue appends an event to the tail of the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, event domain.ProviderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal provider event: %w", err)
	}
	if err := q.client.RPush(ctx, ProviderEventQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to push provider event to redis: %w", err)
	}
	return nil
}

// Pop blocks for up to timeout waiting for the next event and moves it onto
// the processing list. It returns (nil, nil) when the timeout elapses with the
// queue empty.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	data, err := q.client.BLMove(ctx, ProviderEventQueue, ProcessingQueue, "LEFT", "RIGHT", timeout).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop provider event: %w", err)
	}
	return data, nil
}

// Ack drops a handled event from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, data []byte) error {
	if err := q.client.LRem(ctx, ProcessingQueue, 1, data).Err(); err != nil {
		return fmt.Errorf("failed to ack provider event: %w", err)
	}
	return nil
}

// Requeue returns every event left on the processing list to the head of the
// queue, oldest first. It reports how many were moved.
func (q *RedisQueue) Requeue(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, ProcessingQueue, ProviderEventQueue, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to requeue provider events: %w", err)
		}
		moved++
	}
}

// PushToDLQ parks an event that could not be applied.
func (q *RedisQueue) PushToDLQ(ctx context.Context, data []byte) error {
	if err := q.client.RPush(ctx, DeadLetterQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to push event to DLQ: %w", err)
	}
	return nil
}

// Depth is the number of events on each list.
type Depth struct {
	Pending    int64
	Processing int64
	Dead       int64
}

// Len reports the number of events waiting, in flight and dead-lettered.
func (q *RedisQueue) Len(ctx context.Context) (Depth, error) {
	var (
		d   Depth
		err error
	)
	if d.Pending, err = q.client.LLen(ctx, ProviderEventQueue).Result(); err != nil {
		return Depth{}, fmt.Errorf("failed to read queue length: %w", err)
	}
	if d.Processing, err = q.client.LLen(ctx, ProcessingQueue).Result(); err != nil {
		return Depth{}, fmt.Errorf("failed to read processing length: %w", err)
	}
	if d.Dead, err = q.client.LLen(ctx, DeadLetterQueue).Result(); err != nil {
		return Depth{}, fmt.Errorf("failed to read DLQ length: %w", err)
	}
	return d, nil
}

// ReportDepth samples the queue lengths into the queue depth gauge every
// interval until ctx is cancelled.
func (q *RedisQueue) ReportDepth(ctx context.Context, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d, err := q.Len(ctx)
		if err == nil {
			metrics.QueueDepth.WithLabelValues("pending").Set(float64(d.Pending))
			metrics.QueueDepth.WithLabelValues("processing").Set(float64(d.Processing))
			metrics.QueueDepth.WithLabelValues("dead").Set(float64(d.Dead))
		} else if ctx.Err() == nil {
			logger.Warn("failed to sample provider event queue depth", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
