package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/marketsplit-backend/pkg/config"
	"github.com/redis/go-redis/v9"
)

func TestGetAndTouchRenewsTTL(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	if err := client.Set(ctx, "ms:cart:buyer", `{"items":[]}`, time.Hour); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, found, err := client.GetAndTouch(ctx, "ms:cart:buyer", 7*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || value != `{"items":[]}` {
		t.Fatalf("unexpected value %q found=%v", value, found)
	}
	if got := mock.ttl["ms:cart:buyer"]; got != 7*24*time.Hour {
		t.Fatalf("expected ttl to be renewed, got %v", got)
	}
}

func TestGetAndTouchMissingKey(t *testing.T) {
	client := &Client{store: newMockCmdable()}

	value, found, err := client.GetAndTouch(context.Background(), "ms:cart:nobody", time.Hour)
	if err != nil {
		t.Fatalf("missing keys should not error: %v", err)
	}
	if found || value != "" {
		t.Fatalf("expected empty miss, got %q found=%v", value, found)
	}
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	ok, err := client.SetNX(ctx, "k", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to win, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, "k", "1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second setnx to lose, ok=%v err=%v", ok, err)
	}
	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, "k"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestCompareAndSwapGivesUpAfterConflicts(t *testing.T) {
	calls := 0
	client := &Client{tx: watcherFunc(func(context.Context, func(*redis.Tx) error, ...string) error {
		calls++
		return redis.TxFailedErr
	}), casAttempts: 3}

	err := client.CompareAndSwap(context.Background(), "k", time.Minute, func(string, bool) (string, error) {
		return "v", nil
	})
	if !errors.Is(err, ErrCASConflict) {
		t.Fatalf("expected ErrCASConflict, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestCompareAndSwapReturnsOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	client := &Client{tx: watcherFunc(func(context.Context, func(*redis.Tx) error, ...string) error {
		return boom
	})}

	err := client.CompareAndSwap(context.Background(), "k", time.Minute, func(string, bool) (string, error) {
		return "v", nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "ms:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.CartKey("buyer-1"); got != "ms:cart:buyer-1" {
		t.Fatalf("unexpected cart key %s", got)
	}
	if got := client.LockKey("cron"); got != "ms:lock:cron" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.IdempotencyKey("scope", ""); got != "ms:idempotency:scope" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.DB != 2 || opts.PoolSize != 7 {
		t.Fatalf("unexpected options db=%d pool=%d", opts.DB, opts.PoolSize)
	}
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error when url and address are missing")
	}
}

type watcherFunc func(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error

func (f watcherFunc) Watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	return f(ctx, fn, keys...)
}

type mockCmdable struct {
	data map[string]string
	ttl  map[string]time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		ttl:  make(map[string]time.Duration),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	m.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) GetEx(_ context.Context, key string, expiration time.Duration) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	m.ttl[key] = expiration
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	m.ttl[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
		delete(m.ttl, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
