package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	scope := IntentRateLimitScope("user-1", "card")

	for i := int64(1); i <= 2; i++ {
		allowed, count, err := client.FixedWindowAllow(ctx, scope, 2, time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)
		require.Equal(t, i, count)
	}

	allowed, count, err := client.FixedWindowAllow(ctx, scope, 2, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)
	require.EqualValues(t, 3, count)

	key := "paycore:rate_limit:intent_create:card:user-1"
	require.Equal(t, time.Minute, mock.ttl[key])
	require.Equal(t, 1, mock.ttlSets[key], "window must not be extended by later hits")
}

func TestIncrWithTTLHealsMissingExpiry(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	mock.incr["k"] = 4
	count, err := client.IncrWithTTL(ctx, "k", 30*time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 5, count)
	require.Equal(t, 30*time.Second, mock.ttl["k"])
}

func TestIncrWithTTLExpireFailure(t *testing.T) {
	mock := newMockCmdable()
	mock.expireErr = errors.New("readonly replica")
	client := &Client{store: mock}

	count, err := client.IncrWithTTL(context.Background(), "k", time.Second)
	require.Error(t, err)
	require.ErrorIs(t, err, mock.expireErr)
	require.EqualValues(t, 1, count)
}

func TestLockOwnership(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	key := client.LockKey("cron-worker")
	require.Equal(t, "paycore:lock:cron-worker", key)

	ok, err := client.SetNX(ctx, key, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = client.SetNX(ctx, key, "owner-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	owner, err := client.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "owner-a", owner)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	require.ErrorIs(t, err, redis.Nil)
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	ctx := context.Background()

	_, err := client.IncrWithTTL(ctx, "k", time.Second)
	require.ErrorIs(t, err, errNotInitialized)
	require.ErrorIs(t, client.Ping(ctx), errNotInitialized)
	require.NoError(t, client.Close())
}

func TestKeySkipsBlankParts(t *testing.T) {
	client := &Client{}
	require.Equal(t, "paycore:lock:sweeper", client.key("lock", " ", " sweeper "))
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	require.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:secret@cache.internal:6380/3",
		DB:          7,
		PoolSize:    20,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "cache.internal:6380", opts.Addr)
	require.Equal(t, "secret", opts.Password)
	require.Equal(t, 3, opts.DB, "db from url wins")
	require.Equal(t, 20, opts.PoolSize)
	require.Equal(t, 2*time.Second, opts.DialTimeout)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 2, MinIdleConns: 4})
	require.NoError(t, err)
	require.Equal(t, "localhost:6379", opts.Addr)
	require.Equal(t, 2, opts.DB)
	require.Equal(t, 4, opts.MinIdleConns)

	_, err = optionsFromConfig(config.RedisConfig{URL: "://bad"})
	require.Error(t, err)
}

type mockCmdable struct {
	data      map[string]string
	incr      map[string]int64
	ttl       map[string]time.Duration
	ttlSets   map[string]int
	expireErr error
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:    make(map[string]string),
		incr:    make(map[string]int64),
		ttl:     make(map[string]time.Duration),
		ttlSets: make(map[string]int),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(_ context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) ExpireNX(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	if m.expireErr != nil {
		return redis.NewBoolResult(false, m.expireErr)
	}
	if _, ok := m.ttl[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	m.ttl[key] = ttl
	m.ttlSets[key]++
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
