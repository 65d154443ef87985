package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// DefaultRedisPrefix namespaces idempotency keys in Redis.
const DefaultRedisPrefix = "flowguard:idem:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	URL      string `yaml:"url" validate:"required,url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// RedisIdempotencyStore shares idempotency records between processes.
// Expiry is delegated to Redis, so Sweep has nothing to do.
type RedisIdempotencyStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// redisRecord is the stored form of an IdempotencyRecord.
type redisRecord struct {
	Key         string          `json:"key"`
	NodeID      string          `json:"node_id"`
	ExecutionID string          `json:"execution_id"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// NewRedisIdempotencyStore connects to Redis and verifies the connection.
func NewRedisIdempotencyStore(ctx context.Context, cfg RedisConfig) (*RedisIdempotencyStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisIdempotencyStoreWithClient(rdb, cfg.Prefix), nil
}

// NewRedisIdempotencyStoreWithClient wraps an existing client. An empty
// prefix uses DefaultRedisPrefix.
func NewRedisIdempotencyStoreWithClient(rdb redis.UniversalClient, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisIdempotencyStore{rdb: rdb, prefix: prefix, now: time.Now}
}

// Close closes the Redis connection.
func (s *RedisIdempotencyStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisIdempotencyStore) redisKey(key string) string {
	return s.prefix + key
}

// Get returns the live record for key. The cached result is returned as
// json.RawMessage.
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*engine.IdempotencyRecord, bool, error) {
	val, err := s.rdb.Get(ctx, s.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}

	var stored redisRecord
	if err := json.Unmarshal(val, &stored); err != nil {
		return nil, false, fmt.Errorf("failed to decode idempotency record: %w", err)
	}

	rec := &engine.IdempotencyRecord{
		Key:         stored.Key,
		NodeID:      stored.NodeID,
		ExecutionID: stored.ExecutionID,
		CreatedAt:   stored.CreatedAt,
		ExpiresAt:   stored.ExpiresAt,
	}
	// Redis expiry has millisecond resolution; honour the record's own deadline too
	if rec.Expired(s.now()) {
		return nil, false, nil
	}
	if len(stored.Result) > 0 {
		rec.Result = stored.Result
	}
	return rec, true, nil
}

// Put stores the record with a TTL matching its expiry. Records that are
// already expired are not written.
func (s *RedisIdempotencyStore) Put(ctx context.Context, record *engine.IdempotencyRecord) error {
	if record == nil || record.Key == "" {
		return engine.NewValidationError("idempotency record requires a key")
	}

	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	stored := redisRecord{
		Key:         record.Key,
		NodeID:      record.NodeID,
		ExecutionID: record.ExecutionID,
		CreatedAt:   record.CreatedAt,
		ExpiresAt:   record.ExpiresAt,
	}
	if record.Result != nil {
		result, err := json.Marshal(record.Result)
		if err != nil {
			return fmt.Errorf("failed to encode idempotency result: %w", err)
		}
		stored.Result = result
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency record: %w", err)
	}

	if err := s.rdb.Set(ctx, s.redisKey(record.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis evicts expired keys itself.
func (s *RedisIdempotencyStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Len counts the live keys under the store prefix.
func (s *RedisIdempotencyStore) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		n      int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.prefix+"*", 500).Result()
		if err != nil {
			return 0, fmt.Errorf("scan failed: %w", err)
		}
		n += len(keys)
		cursor = next
		if cursor == 0 {
			return n, nil
		}
	}
}
