package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- モック定義 ---

// fakeStateClient はSETNXとGETDELの意味論だけを再現するインメモリ実装。
type fakeStateClient struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	failErr error
}

func newFakeStateClient() *fakeStateClient {
	return &fakeStateClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStateClient) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return redis.NewBoolResult(false, f.failErr)
	}
	if _, exists := f.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeStateClient) GetDel(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return redis.NewStringResult("", f.failErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	delete(f.values, key)
	return redis.NewStringResult(v, nil)
}

func TestRedisStateStore_SaveAndConsumeOnce(t *testing.T) {
	client := newFakeStateClient()
	store := &RedisStateStore{client: client}
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "abc", "naver", 10*time.Minute))
	assert.Equal(t, 10*time.Minute, client.ttls["oauth:state:abc"])

	provider, ok, err := store.Consume(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "naver", provider)

	// 2回目の消費は失敗する（リプレイ防止）
	_, ok, err = store.Consume(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStateStore_Save_Duplicate(t *testing.T) {
	store := &RedisStateStore{client: newFakeStateClient()}
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "abc", "naver", time.Minute))
	assert.ErrorIs(t, store.Save(ctx, "abc", "naver", time.Minute), ErrStateExists)
}

func TestRedisStateStore_Consume_Unknown(t *testing.T) {
	store := &RedisStateStore{client: newFakeStateClient()}

	_, ok, err := store.Consume(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStateStore_BackendError(t *testing.T) {
	client := newFakeStateClient()
	client.failErr = errors.New("connection refused")
	store := &RedisStateStore{client: client}
	ctx := context.Background()

	err := store.Save(ctx, "abc", "naver", time.Minute)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrStateExists)

	_, ok, err := store.Consume(ctx, "abc")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), ConnectConfig{URL: "not a url"})
	assert.Error(t, err)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), ConnectConfig{
		URL:            "redis://127.0.0.1:1/0",
		ConnectTimeout: 2 * time.Second,
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrRedisNotReady)
}
