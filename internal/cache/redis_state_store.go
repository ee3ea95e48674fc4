package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// stateKeyPrefix はOAuth stateのキー接頭辞。
const stateKeyPrefix = "oauth:state:"

// ErrStateExists は同じstateが既に保存されている場合のエラー。
var ErrStateExists = errors.New("oauth state already exists")

// stateClient はRedisStateStoreが使うRedisコマンド。
type stateClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
}

// RedisStateStore はOAuthのstateパラメータをRedisに一時保存する。
// stateは1回だけ消費でき、TTL経過後は自動で失効する。
type RedisStateStore struct {
	client stateClient
}

// NewRedisStateStore はRedisStateStoreを生成する。
func NewRedisStateStore(client redis.Cmdable) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Save はstateをTTL付きで保存する。同じstateが既にあればErrStateExistsを返す。
func (s *RedisStateStore) Save(ctx context.Context, state, provider string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, stateKeyPrefix+state, provider, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	if !ok {
		return ErrStateExists
	}
	return nil
}

// Consume はstateを取得と同時に削除し、保存時のプロバイダー名を返す。
// 未登録または期限切れの場合はfalseを返す。
func (s *RedisStateStore) Consume(ctx context.Context, state string) (string, bool, error) {
	provider, err := s.client.GetDel(ctx, stateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	return provider, true, nil
}
