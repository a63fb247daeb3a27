package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/promptdrive/promptdrive-go/promptdrive"
)

// RedisArchiver stores outcomes in Redis lists, one list per batch.
//
// Redis data structure:
//   - Key: "{prefix}:{batch_id}:outcomes"
//   - Type: List, RPUSH order == insertion order
//   - Value: JSON-encoded Outcome
//
// A TTL of zero disables expiry.
type RedisArchiver struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ Archiver = (*RedisArchiver)(nil)

// NewRedisArchiver creates a Redis-backed archiver from a connection URL
// such as "redis://localhost:6379".
func NewRedisArchiver(redisURL, keyPrefix string, ttl time.Duration) (*RedisArchiver, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("archive: invalid redis URL: %w", err)
	}
	if keyPrefix == "" {
		keyPrefix = "promptdrive:archive"
	}
	return &RedisArchiver{
		client:    redis.NewClient(opts),
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}, nil
}

func (a *RedisArchiver) batchKey(batchID string) string {
	return fmt.Sprintf("%s:%s:outcomes", a.keyPrefix, batchID)
}

// Store appends the JSON-encoded outcome to the batch's list and refreshes
// the TTL when one is configured.
func (a *RedisArchiver) Store(ctx context.Context, batchID string, outcome *promptdrive.Outcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("archive: serialize outcome: %w", err)
	}

	key := a.batchKey(batchID)
	if err := a.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("archive: rpush %s: %w", key, err)
	}
	if a.ttl > 0 {
		if err := a.client.Expire(ctx, key, a.ttl).Err(); err != nil {
			return fmt.Errorf("archive: expire %s: %w", key, err)
		}
	}
	return nil
}

// List returns the batch's archived outcomes in insertion order.
func (a *RedisArchiver) List(ctx context.Context, batchID string) ([]*promptdrive.Outcome, error) {
	key := a.batchKey(batchID)
	raw, err := a.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("archive: lrange %s: %w", key, err)
	}

	outcomes := make([]*promptdrive.Outcome, 0, len(raw))
	for _, item := range raw {
		var out promptdrive.Outcome
		if err := json.Unmarshal([]byte(item), &out); err != nil {
			return nil, fmt.Errorf("archive: deserialize outcome: %w", err)
		}
		outcomes = append(outcomes, &out)
	}
	return outcomes, nil
}

// Close releases the Redis connection.
func (a *RedisArchiver) Close() error {
	return a.client.Close()
}
