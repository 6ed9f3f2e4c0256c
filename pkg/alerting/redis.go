package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sandguard/sandguard/pkg/domain"
)

// RedisStore persists violations in per-sandbox lists and alerts as JSON
// values indexed by a global list of ids.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
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

	return &RedisStore{client: client, now: time.Now}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func violationsKey(key domain.SandboxKey) string {
	return fmt.Sprintf("sandguard:violations:%s", key)
}

func alertKey(id string) string {
	return fmt.Sprintf("sandguard:alert:%s", id)
}

const alertIndexKey = "sandguard:alerts"

func (s *RedisStore) AppendViolation(ctx context.Context, v domain.Violation) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal violation: %w", err)
	}
	if err := s.client.RPush(ctx, violationsKey(v.Key), data).Err(); err != nil {
		return &domain.PersistenceError{Op: "append violation", Cause: err}
	}
	return nil
}

func (s *RedisStore) Violations(ctx context.Context, key domain.SandboxKey) ([]domain.Violation, error) {
	vals, err := s.client.LRange(ctx, violationsKey(key), 0, -1).Result()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "read violations", Cause: err}
	}

	out := make([]domain.Violation, 0, len(vals))
	for _, val := range vals {
		var v domain.Violation
		if err := json.Unmarshal([]byte(val), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *RedisStore) CreateAlert(ctx context.Context, a domain.Alert) (*domain.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.UpdatedAt = a.CreatedAt

	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, alertKey(a.ID), data, 0)
	pipe.RPush(ctx, alertIndexKey, a.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &domain.PersistenceError{Op: "create alert", Cause: err}
	}
	return &a, nil
}

func (s *RedisStore) ListAlerts(ctx context.Context, f AlertFilter) ([]domain.Alert, error) {
	ids, err := s.client.LRange(ctx, alertIndexKey, 0, -1).Result()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list alerts", Cause: err}
	}

	var out []domain.Alert
	for _, id := range ids {
		val, err := s.client.Get(ctx, alertKey(id)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, &domain.PersistenceError{Op: "list alerts", Cause: err}
		}

		var a domain.Alert
		if err := json.Unmarshal([]byte(val), &a); err != nil {
			continue
		}
		if f.ModuleID != "" && a.ModuleID != f.ModuleID {
			continue
		}
		if f.TenantID != "" && a.TenantID != f.TenantID {
			continue
		}
		if f.Acknowledged != nil && a.Acknowledged != *f.Acknowledged {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *RedisStore) Acknowledge(ctx context.Context, alertID, by string) error {
	key := alertKey(alertID)

	// Watch the record so concurrent acks can't clobber each other.
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.NewNotFoundError("alert", alertID)
			}
			return err
		}

		var a domain.Alert
		if err := json.Unmarshal([]byte(val), &a); err != nil {
			return err
		}
		if a.Acknowledged {
			return nil // second ack is a no-op
		}

		a.Acknowledged = true
		a.AckedBy = by
		a.AckedAt = s.now()
		a.UpdatedAt = a.AckedAt

		data, err := json.Marshal(a)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	}, key)

	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return err
	}
	if err != nil {
		return &domain.PersistenceError{Op: "acknowledge alert", Cause: err}
	}
	return nil
}
