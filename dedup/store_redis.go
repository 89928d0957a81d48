package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore 基于 Redis 的去重存储.
//
// 使用 SET NX 原子地记录 key，多个消费实例共享去重状态.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisStoreOption Redis 存储配置选项.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix 设置键前缀，默认 "pubsub:dedup:".
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.keyPrefix = prefix
	}
}

// NewRedisStore 创建 Redis 存储.
//
// client 的生命周期由调用方管理，Close 不会关闭它.
func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "pubsub:dedup:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mark 记录 key.
func (s *RedisStore) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget 删除 key.
func (s *RedisStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.keyPrefix+key).Err()
}

// Close 无需释放资源.
func (s *RedisStore) Close() error {
	return nil
}
