package pubsub_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Tsukikage7/pubsubflow/pubsub"
	"github.com/Tsukikage7/pubsubflow/pubsub/pubsubtest"
	"github.com/Tsukikage7/pubsubflow/stream"
)

const (
	testTopic        = "projects/alpakka/topics/testTopic"
	testSubscription = "projects/alpakka/subscriptions/testSubscription"

	// 确认期限 1 秒按 10ms 计
	timeScale = 10 * time.Millisecond
)

func newMemoryBroker(t *testing.T, opts ...pubsubtest.Option) *pubsubtest.Broker {
	t.Helper()
	b := pubsubtest.NewBroker(append([]pubsubtest.Option{pubsubtest.WithTimeScale(timeScale)}, opts...)...)
	require.NoError(t, b.CreateTopic(testTopic))
	require.NoError(t, b.CreateSubscription(testSubscription, testTopic))
	return b
}

func pullRequest() *pubsub.StreamingPullRequest {
	return &pubsub.StreamingPullRequest{
		Subscription:       testSubscription,
		AckDeadlineSeconds: 10,
	}
}

func feed[T any](items ...T) <-chan T {
	ch := make(chan T, len(items))
	for _, it := range items {
		ch <- it
	}
	close(ch)
	return ch
}

func drain[T any](ch <-chan T) []T {
	var out []T
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func recvWithin[T any](t *testing.T, ch <-chan T, d time.Duration) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(d):
		t.Fatalf("nothing received within %s", d)
	}
	var zero T
	return zero
}

// stubBroker 由函数字段驱动的 Broker.
type stubBroker struct {
	publish     func(ctx context.Context, req *pubsub.PublishRequest) (*pubsub.PublishResponse, error)
	pull        func(ctx context.Context, req *pubsub.StreamingPullRequest) (pubsub.PullStream, error)
	acknowledge func(ctx context.Context, req *pubsub.AcknowledgeRequest) error
}

func (b *stubBroker) Publish(ctx context.Context, req *pubsub.PublishRequest) (*pubsub.PublishResponse, error) {
	return b.publish(ctx, req)
}

func (b *stubBroker) StreamingPull(ctx context.Context, req *pubsub.StreamingPullRequest) (pubsub.PullStream, error) {
	return b.pull(ctx, req)
}

func (b *stubBroker) Acknowledge(ctx context.Context, req *pubsub.AcknowledgeRequest) error {
	return b.acknowledge(ctx, req)
}

// scriptedStream 依次返回预设的批次，之后返回 end；end 为 nil 时阻塞到 ctx 取消.
type scriptedStream struct {
	ctx     context.Context
	batches [][]*pubsub.ReceivedMessage
	end     error

	mu     sync.Mutex
	recvs  int
	closed atomic.Bool
}

func (s *scriptedStream) Recv() ([]*pubsub.ReceivedMessage, error) {
	s.mu.Lock()
	s.recvs++
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	if s.end != nil {
		return nil, s.end
	}
	<-s.ctx.Done()
	return nil, s.ctx.Err()
}

func (s *scriptedStream) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *scriptedStream) Recvs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvs
}

func received(ackID, data string) *pubsub.ReceivedMessage {
	return &pubsub.ReceivedMessage{
		AckID:           ackID,
		DeliveryAttempt: 1,
		Message:         &pubsub.Message{Data: []byte(data), MessageID: "id-" + ackID},
	}
}

// receiveOnce 启动一个新的订阅，取到第一条消息后取消订阅，不确认.
func receiveOnce(t *testing.T, broker pubsub.Broker) *pubsub.ReceivedMessage {
	t.Helper()

	sub, err := pubsub.NewSubscriber(broker, pullRequest(), pubsub.WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan *pubsub.ReceivedMessage, 1)
	errc := make(chan error, 1)
	go func() { errc <- sub.Run(ctx, out) }()

	m := recvWithin(t, out, 2*time.Second)
	cancel()
	require.NoError(t, recvWithin(t, errc, time.Second))
	assert.Equal(t, pubsub.StateCanceled, sub.State())
	return m
}

// receiveUntilIdle 启动一个新的订阅，直到 12 秒（按比例缩放）没有消息，返回期间收到的消息.
func receiveUntilIdle(t *testing.T, broker pubsub.Broker) []*pubsub.ReceivedMessage {
	t.Helper()

	sub, err := pubsub.NewSubscriber(broker, pullRequest(), pubsub.WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs := make(chan *pubsub.ReceivedMessage, 1)
	idle := make(chan *pubsub.ReceivedMessage, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sub.Run(gctx, msgs) })
	g.Go(func() error { return stream.IdleTimeout(gctx, msgs, idle, 12*timeScale, nil) })

	var got []*pubsub.ReceivedMessage
	g.Go(func() error {
		for m := range idle {
			got = append(got, m)
		}
		return nil
	})

	assert.ErrorIs(t, g.Wait(), stream.ErrIdleTimeout)
	return got
}

// labasScenario 依次执行三次独立订阅：
// 收到 "Labas!" 不确认；重新订阅再次收到同一条消息并确认两次；最后一次订阅在空闲超时前收不到任何消息.
func labasScenario(t *testing.T, broker pubsub.Broker, mem *pubsubtest.Broker, messageID string) (first, second *pubsub.ReceivedMessage) {
	t.Helper()

	first = receiveOnce(t, broker)
	assert.Equal(t, "Labas!", string(first.Message.Data))
	assert.Equal(t, messageID, first.Message.MessageID)
	assert.Equal(t, 1, first.DeliveryAttempt)
	assert.Equal(t, 1, mem.Unacked(testSubscription))

	second = receiveOnce(t, broker)
	assert.Equal(t, "Labas!", string(second.Message.Data))
	assert.Equal(t, messageID, second.Message.MessageID)
	assert.Equal(t, 2, second.DeliveryAttempt)

	acker, err := pubsub.NewAcknowledger(broker)
	require.NoError(t, err)
	ack := pubsub.AckRequest(testSubscription, second)
	acked := make(chan *pubsub.AcknowledgeRequest, 2)
	require.NoError(t, acker.Run(context.Background(), feed(ack, ack), acked))
	assert.Len(t, drain(acked), 2)
	assert.Equal(t, 0, mem.Unacked(testSubscription))

	assert.Empty(t, receiveUntilIdle(t, broker))
	require.Eventually(t, func() bool { return mem.OpenStreams() == 0 }, time.Second, time.Millisecond)
	return first, second
}
