package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/Tsukikage7/pubsubflow/clock"
)

// MemoryStore 基于内存的去重存储.
//
// 适用于单实例消费或测试场景，重启后记录丢失.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]time.Time
	clock    clock.Clock
	interval time.Duration

	closeOnce sync.Once
	closeCh   chan struct{}
	closed    bool
}

// MemoryStoreOption 内存存储配置选项.
type MemoryStoreOption func(*MemoryStore)

// WithClock 设置时间源，测试中配合 clock.Manual 使用.
func WithClock(c clock.Clock) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.clock = clock.OrReal(c)
	}
}

// WithCleanupInterval 设置过期记录的清理周期，默认 1 分钟.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewMemoryStore 创建内存存储并启动清理协程.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:  make(map[string]time.Time),
		clock:    clock.Real(),
		interval: time.Minute,
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanup()

	return s
}

// Mark 记录 key.
func (s *MemoryStore) Mark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	now := s.clock.Now()
	if expiresAt, ok := s.entries[key]; ok && now.Before(expiresAt) {
		return true, nil
	}
	s.entries[key] = now.Add(ttl)
	return false, nil
}

// Forget 删除 key.
func (s *MemoryStore) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Len 返回当前记录数，包含尚未清理的过期记录.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close 停止清理协程，可重复调用.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closeCh)
	})
	return nil
}

// cleanup 定期清理过期记录.
func (s *MemoryStore) cleanup() {
	for {
		select {
		case <-s.closeCh:
			return
		case <-s.clock.After(s.interval):
			s.evict()
		}
	}
}

func (s *MemoryStore) evict() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, key)
		}
	}
}
