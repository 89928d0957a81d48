// Package dedup 提供按消息 ID 的重复投递过滤.
//
// Pub/Sub 为至少一次投递，租约到期或流重开后同一消息可能再次到达.
// Filter 记录已处理的 MessageID，在 TTL 内再次出现的消息交给 OnDuplicate 回调（通常直接确认），
// 不再向下游输出.
//
// 基本用法:
//
//	store := dedup.NewMemoryStore()
//	defer store.Close()
//
//	filter := dedup.NewFilter(store,
//	    dedup.WithTTL(10*time.Minute),
//	    dedup.WithOnDuplicate(func(ctx context.Context, msg *pubsub.ReceivedMessage) {
//	        _ = acker.Acknowledge(ctx, pubsub.AckRequest(sub, msg.AckID))
//	    }),
//	)
//	g.Go(func() error { return filter.Run(ctx, received, unique) })
//
// 多实例消费同一订阅时使用 RedisStore 共享去重状态.
package dedup

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL 默认记录保留时间.
const DefaultTTL = 10 * time.Minute

var (
	// ErrNilStore 存储实例为空.
	ErrNilStore = errors.New("dedup: 存储实例不能为空")

	// ErrEmptyKey 去重键为空.
	ErrEmptyKey = errors.New("dedup: 去重键不能为空")

	// ErrStoreClosed 存储已关闭.
	ErrStoreClosed = errors.New("dedup: 存储已关闭")
)

// Store 去重记录存储.
type Store interface {
	// Mark 记录 key，保留 ttl.
	// key 在有效期内已存在时返回 true，且不刷新其过期时间.
	Mark(ctx context.Context, key string, ttl time.Duration) (seen bool, err error)

	// Forget 删除 key，之后同一 key 视为首次出现.
	Forget(ctx context.Context, key string) error

	// Close 释放存储资源.
	Close() error
}
