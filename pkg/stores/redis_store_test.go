package stores

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/flowguard/pkg/engine"
)

// setupRedisStore connects to FLOWGUARD_TEST_REDIS_URL, skipping the test when unset.
func setupRedisStore(t *testing.T) *RedisIdempotencyStore {
	t.Helper()

	url := os.Getenv("FLOWGUARD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FLOWGUARD_TEST_REDIS_URL not set")
	}

	store, err := NewRedisIdempotencyStore(context.Background(), RedisConfig{
		URL:    url,
		Prefix: "flowguard-test:" + uuid.NewString() + ":",
	})
	if err != nil {
		t.Fatalf("failed to connect to redis: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewRedisIdempotencyStoreInvalidURL(t *testing.T) {
	if _, err := NewRedisIdempotencyStore(context.Background(), RedisConfig{URL: "not-a-redis-url"}); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestRedisKeyPrefix(t *testing.T) {
	store := NewRedisIdempotencyStoreWithClient(nil, "")
	if got := store.redisKey("charge-42"); got != "flowguard:idem:charge-42" {
		t.Errorf("redisKey() = %q", got)
	}

	custom := NewRedisIdempotencyStoreWithClient(nil, "tenant-a:")
	if got := custom.redisKey("k"); got != "tenant-a:k" {
		t.Errorf("redisKey() with custom prefix = %q", got)
	}
}

func TestRedisPutValidation(t *testing.T) {
	store := NewRedisIdempotencyStoreWithClient(nil, "")
	if err := store.Put(context.Background(), &engine.IdempotencyRecord{}); !engine.IsValidation(err) {
		t.Errorf("Put() without key error = %v, want validation error", err)
	}

	// Already expired records are never written, so no client is needed
	expired := &engine.IdempotencyRecord{Key: "k", ExpiresAt: time.Now().Add(-time.Second)}
	if err := store.Put(context.Background(), expired); err != nil {
		t.Errorf("Put() of expired record error = %v", err)
	}

	if n, err := store.Sweep(context.Background(), time.Now()); n != 0 || err != nil {
		t.Errorf("Sweep() = %d, %v", n, err)
	}
}

func TestRedisIdempotencyStore(t *testing.T) {
	store := setupRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := &engine.IdempotencyRecord{
		Key:         "charge-42",
		NodeID:      "charge",
		ExecutionID: "exec-1",
		Result:      map[string]string{"id": "ch_1"},
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Minute),
	}
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "charge-42")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", got, ok, err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(got.Result.(json.RawMessage), &decoded); err != nil || decoded["id"] != "ch_1" {
		t.Errorf("decoded result = %v, %v", decoded, err)
	}

	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Error("Get() returned a record for an unknown key")
	}

	n, err := store.Len(ctx)
	if err != nil || n != 1 {
		t.Errorf("Len() = %d, %v, want 1", n, err)
	}

	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, ok, _ := store.Get(ctx, "charge-42"); ok {
		t.Error("Get() returned a record past its expiry")
	}
}
