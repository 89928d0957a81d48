// Package pubsubtest 提供内存版 Broker 与进程内 gRPC 服务，用于测试.
//
// 内存 Broker 支持主题、订阅、租约与确认期限，未确认的消息在租约到期后重新投递.
// 时间可按比例缩放，例如 WithTimeScale(10*time.Millisecond) 表示确认期限的 1 秒等于 10ms.
package pubsubtest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Tsukikage7/pubsubflow/pubsub"
)

// 确认期限范围.
const (
	minAckDeadline = 10
	maxAckDeadline = 600
	maxBatchSize   = 100
)

// Option Broker 配置选项.
type Option func(*Broker)

// WithTimeScale 设置确认期限 1 秒对应的实际时长，默认 time.Second.
func WithTimeScale(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.scale = d
		}
	}
}

// WithIdleClose 设置流空闲多久后由 broker 以 io.EOF 结束，0 表示不主动结束.
func WithIdleClose(d time.Duration) Option {
	return func(b *Broker) {
		b.idleClose = d
	}
}

// Hook 在调用真正执行前触发，返回的错误原样返回给调用方.
type Hook func(ctx context.Context) error

// Broker 内存版 Broker，可并发使用.
type Broker struct {
	mu     sync.Mutex
	topics map[string][]string // topic -> subscriptions
	subs   map[string]*subscription

	scale     time.Duration
	idleClose time.Duration

	onPublish       Hook
	onStreamingPull Hook
	onAcknowledge   Hook

	publishCalls  int
	ackCalls      int
	streamsOpened int
	openStreams   int
}

type subscription struct {
	name   string
	queue  []*entry
	leases map[string]*lease
	notify chan struct{}
}

type entry struct {
	msg      pubsub.Message
	attempts int
}

type lease struct {
	entry   *entry
	expires time.Time
	stream  *memStream
}

var _ pubsub.Broker = (*Broker)(nil)

// NewBroker 创建内存 Broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		topics: make(map[string][]string),
		subs:   make(map[string]*subscription),
		scale:  time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateTopic 创建主题，已存在时返回 AlreadyExists.
func (b *Broker) CreateTopic(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[name]; ok {
		return status.Errorf(codes.AlreadyExists, "topic already exists: %s", name)
	}
	b.topics[name] = nil
	return nil
}

// CreateSubscription 在主题上创建订阅，只接收创建之后发布的消息.
func (b *Broker) CreateSubscription(name, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[topic]; !ok {
		return status.Errorf(codes.NotFound, "topic not found: %s", topic)
	}
	if _, ok := b.subs[name]; ok {
		return status.Errorf(codes.AlreadyExists, "subscription already exists: %s", name)
	}
	b.subs[name] = &subscription{
		name:   name,
		leases: make(map[string]*lease),
		notify: make(chan struct{}),
	}
	b.topics[topic] = append(b.topics[topic], name)
	return nil
}

// OnPublish 设置发布钩子，用于注入延迟或错误.
func (b *Broker) OnPublish(h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = h
}

// OnStreamingPull 设置打开流式拉取的钩子.
func (b *Broker) OnStreamingPull(h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStreamingPull = h
}

// OnAcknowledge 设置确认钩子.
func (b *Broker) OnAcknowledge(h Hook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onAcknowledge = h
}

func (b *Broker) runHook(ctx context.Context, get func() Hook) error {
	b.mu.Lock()
	h := get()
	b.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(ctx)
}

// Publish 发布消息，为每条消息分配 ID 与发布时间，并投递到主题的所有订阅.
func (b *Broker) Publish(ctx context.Context, req *pubsub.PublishRequest) (*pubsub.PublishResponse, error) {
	if err := b.runHook(ctx, func() Hook { return b.onPublish }); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	if len(req.Messages) == 0 {
		return nil, status.Error(codes.InvalidArgument, "no messages")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.publishCalls++
	subs, ok := b.topics[req.Topic]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "topic not found: %s", req.Topic)
	}

	now := time.Now()
	ids := make([]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := pubsub.Message{
			Data:        m.Data,
			Attributes:  m.Attributes,
			OrderingKey: m.OrderingKey,
			MessageID:   uuid.NewString(),
			PublishTime: now,
		}
		ids = append(ids, msg.MessageID)
		for _, name := range subs {
			sub := b.subs[name]
			sub.queue = append(sub.queue, &entry{msg: msg})
		}
	}
	for _, name := range subs {
		b.subs[name].wake()
	}

	return &pubsub.PublishResponse{MessageIDs: ids}, nil
}

// Acknowledge 确认消息，未知或已过期的 ack ID 被忽略.
func (b *Broker) Acknowledge(ctx context.Context, req *pubsub.AcknowledgeRequest) error {
	if err := b.runHook(ctx, func() Hook { return b.onAcknowledge }); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return status.FromContextError(err).Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ackCalls++
	sub, ok := b.subs[req.Subscription]
	if !ok {
		return status.Errorf(codes.NotFound, "subscription not found: %s", req.Subscription)
	}
	for _, id := range req.AckIDs {
		delete(sub.leases, id)
	}
	sub.wake()
	return nil
}

// StreamingPull 打开流式拉取.
func (b *Broker) StreamingPull(ctx context.Context, req *pubsub.StreamingPullRequest) (pubsub.PullStream, error) {
	if err := b.runHook(ctx, func() Hook { return b.onStreamingPull }); err != nil {
		return nil, err
	}
	if req.AckDeadlineSeconds < minAckDeadline || req.AckDeadlineSeconds > maxAckDeadline {
		return nil, status.Errorf(codes.InvalidArgument, "invalid ack deadline: %d", req.AckDeadlineSeconds)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[req.Subscription]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "subscription not found: %s", req.Subscription)
	}

	sctx, cancel := context.WithCancel(ctx)
	b.streamsOpened++
	b.openStreams++

	return &memStream{
		broker:         b,
		sub:            sub,
		ctx:            sctx,
		cancel:         cancel,
		deadline:       time.Duration(req.AckDeadlineSeconds) * b.scale,
		maxOutstanding: req.MaxOutstandingMessages,
		lastActive:     time.Now(),
	}, nil
}

// PublishCalls 返回发布 RPC 次数.
func (b *Broker) PublishCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishCalls
}

// AckCalls 返回确认 RPC 次数.
func (b *Broker) AckCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ackCalls
}

// StreamsOpened 返回累计打开的流数.
func (b *Broker) StreamsOpened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamsOpened
}

// OpenStreams 返回当前未关闭的流数.
func (b *Broker) OpenStreams() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openStreams
}

// Unacked 返回订阅中尚未确认的消息数，包括排队中和租约中的.
func (b *Broker) Unacked(subscription string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscription]
	if !ok {
		return 0
	}
	return len(sub.queue) + len(sub.leases)
}

// wake 唤醒等待该订阅的流，调用方需持有锁.
func (s *subscription) wake() {
	close(s.notify)
	s.notify = make(chan struct{})
}

// expire 将到期的租约放回队首，返回最近一个未到期租约的到期时间.
func (s *subscription) expire(now time.Time) (next time.Time) {
	var expired []*entry
	for id, l := range s.leases {
		if !l.expires.After(now) {
			expired = append(expired, l.entry)
			delete(s.leases, id)
			continue
		}
		if next.IsZero() || l.expires.Before(next) {
			next = l.expires
		}
	}
	if len(expired) > 0 {
		s.queue = append(expired, s.queue...)
	}
	return next
}

type memStream struct {
	broker         *Broker
	sub            *subscription
	ctx            context.Context
	cancel         context.CancelFunc
	deadline       time.Duration
	maxOutstanding int64
	lastActive     time.Time
	closeOnce      sync.Once
}

func (s *memStream) outstanding() int64 {
	var n int64
	for _, l := range s.sub.leases {
		if l.stream == s {
			n++
		}
	}
	return n
}

// Recv 阻塞直到有可投递的消息、流空闲超时或被关闭.
func (s *memStream) Recv() ([]*pubsub.ReceivedMessage, error) {
	b := s.broker
	for {
		b.mu.Lock()
		if err := s.ctx.Err(); err != nil {
			b.mu.Unlock()
			return nil, status.FromContextError(err).Err()
		}

		now := time.Now()
		next := s.sub.expire(now)

		limit := maxBatchSize
		if s.maxOutstanding > 0 {
			limit = min(limit, int(s.maxOutstanding-s.outstanding()))
		}
		if limit > 0 && len(s.sub.queue) > 0 {
			n := min(limit, len(s.sub.queue))
			batch := make([]*pubsub.ReceivedMessage, 0, n)
			for _, e := range s.sub.queue[:n] {
				e.attempts++
				ackID := uuid.NewString()
				s.sub.leases[ackID] = &lease{entry: e, expires: now.Add(s.deadline), stream: s}
				msg := e.msg
				batch = append(batch, &pubsub.ReceivedMessage{
					Message:         &msg,
					AckID:           ackID,
					DeliveryAttempt: e.attempts,
				})
			}
			s.sub.queue = s.sub.queue[n:]
			s.lastActive = now
			b.mu.Unlock()
			return batch, nil
		}

		wait := time.Duration(-1)
		if !next.IsZero() {
			wait = next.Sub(now)
		}
		if b.idleClose > 0 {
			idle := s.lastActive.Add(b.idleClose).Sub(now)
			if idle <= 0 {
				b.mu.Unlock()
				return nil, io.EOF
			}
			if wait < 0 || idle < wait {
				wait = idle
			}
		}
		notify := s.sub.notify
		b.mu.Unlock()

		var (
			t     *time.Timer
			timer <-chan time.Time
		)
		if wait >= 0 {
			t = time.NewTimer(wait)
			timer = t.C
		}
		select {
		case <-notify:
		case <-timer:
		case <-s.ctx.Done():
		}
		if t != nil {
			t.Stop()
		}
	}
}

// Close 关闭流，租约保留到各自到期.
func (s *memStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.broker.mu.Lock()
		s.broker.openStreams--
		s.broker.mu.Unlock()
	})
	return nil
}
