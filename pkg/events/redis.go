package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the redis stream external collaborators read from.
const DefaultStream = "sandguard:events"

// RedisBus publishes lifecycle events onto a capped redis stream so
// collaborators outside the process can consume them with XREAD.
type RedisBus struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisBus(addr string, db int, password, stream string) (*RedisBus, error) {
	if stream == "" {
		stream = DefaultStream
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBus{client: client, stream: stream, maxLen: 10000}, nil
}

// NewRedisBusWithClient wraps an existing client; used by tests.
func NewRedisBusWithClient(client *redis.Client, stream string) *RedisBus {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisBus{client: client, stream: stream, maxLen: 10000}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":    string(ev.Type),
			"payload": data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
