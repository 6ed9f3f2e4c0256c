package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sandguard/sandguard/pkg/domain"
)

// RedisStore persists sandbox records as JSON values. Records carry no TTL:
// a sandbox only disappears through an explicit destroy.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, db int, password string) (*RedisStore, error) {
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

	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func recordKey(key domain.SandboxKey) string {
	return fmt.Sprintf("sandguard:sandbox:%s", key)
}

func (s *RedisStore) Save(ctx context.Context, sb *domain.Sandbox) error {
	data, err := json.Marshal(sb)
	if err != nil {
		return fmt.Errorf("failed to marshal sandbox: %w", err)
	}
	if err := s.client.Set(ctx, recordKey(sb.Key), data, 0).Err(); err != nil {
		return &domain.PersistenceError{Op: "save sandbox", Cause: err}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key domain.SandboxKey) (*domain.Sandbox, error) {
	val, err := s.client.Get(ctx, recordKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.NewNotFoundError("sandbox", key.String())
		}
		return nil, &domain.PersistenceError{Op: "get sandbox", Cause: err}
	}

	var sb domain.Sandbox
	if err := json.Unmarshal([]byte(val), &sb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sandbox: %w", err)
	}
	return &sb, nil
}

func (s *RedisStore) Delete(ctx context.Context, key domain.SandboxKey) error {
	n, err := s.client.Del(ctx, recordKey(key)).Result()
	if err != nil {
		return &domain.PersistenceError{Op: "delete sandbox", Cause: err}
	}
	if n == 0 {
		return domain.NewNotFoundError("sandbox", key.String())
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*domain.Sandbox, error) {
	var out []*domain.Sandbox
	iter := s.client.Scan(ctx, 0, "sandguard:sandbox:*", 0).Iterator()

	for iter.Next(ctx) {
		val, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // deleted during iteration
			}
			return nil, &domain.PersistenceError{Op: "list sandboxes", Cause: err}
		}

		var sb domain.Sandbox
		if err := json.Unmarshal([]byte(val), &sb); err != nil {
			continue // skip corrupt entries
		}
		out = append(out, &sb)
	}
	if err := iter.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list sandboxes", Cause: err}
	}
	return out, nil
}
