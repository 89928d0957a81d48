package pubsub_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Tsukikage7/pubsubflow/pubsub"
)

func TestNewAcknowledger_Validation(t *testing.T) {
	_, err := pubsub.NewAcknowledger(nil)
	assert.ErrorIs(t, err, pubsub.ErrNilBroker)

	_, err = pubsub.NewAcknowledger(newMemoryBroker(t), pubsub.WithParallelism(-1))
	assert.ErrorIs(t, err, pubsub.ErrInvalidParallelism)
}

func TestAcknowledger_Acknowledge(t *testing.T) {
	b := newMemoryBroker(t)
	acker, err := pubsub.NewAcknowledger(b)
	require.NoError(t, err)

	t.Run("空订阅", func(t *testing.T) {
		err := acker.Acknowledge(context.Background(), &pubsub.AcknowledgeRequest{AckIDs: []string{"x"}})
		assert.ErrorIs(t, err, pubsub.ErrEmptySubscription)
	})

	t.Run("空 ack ID 不发起调用", func(t *testing.T) {
		err := acker.Acknowledge(context.Background(), &pubsub.AcknowledgeRequest{Subscription: testSubscription})
		require.NoError(t, err)
		assert.Equal(t, 0, b.AckCalls())
	})

	t.Run("重复确认不是错误", func(t *testing.T) {
		req := &pubsub.AcknowledgeRequest{Subscription: testSubscription, AckIDs: []string{"a", "a", "unknown"}}
		require.NoError(t, acker.Acknowledge(context.Background(), req))
		require.NoError(t, acker.Acknowledge(context.Background(), req))
	})

	t.Run("订阅不存在", func(t *testing.T) {
		err := acker.Acknowledge(context.Background(), &pubsub.AcknowledgeRequest{
			Subscription: "projects/alpakka/subscriptions/missing",
			AckIDs:       []string{"a"},
		})
		assert.ErrorIs(t, err, pubsub.ErrRejected)
	})
}

func TestAcknowledger_RunEmitsAcceptedRequests(t *testing.T) {
	b := newMemoryBroker(t)
	pub, err := pubsub.NewPublisher(b)
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), pubsub.Batch(testTopic, []*pubsub.Message{
		pubsub.NewMessage([]byte("1")), pubsub.NewMessage([]byte("2")), pubsub.NewMessage([]byte("3")),
	}))
	require.NoError(t, err)

	st, err := b.StreamingPull(context.Background(), pullRequest())
	require.NoError(t, err)
	defer st.Close()
	batch, err := st.Recv()
	require.NoError(t, err)
	require.Len(t, batch, 3)

	acker, err := pubsub.NewAcknowledger(b, pubsub.WithParallelism(2))
	require.NoError(t, err)

	reqs := []*pubsub.AcknowledgeRequest{
		pubsub.AckRequest(testSubscription, batch[0]),
		pubsub.AckRequest(testSubscription, batch[1], batch[2]),
	}
	out := make(chan *pubsub.AcknowledgeRequest, 2)
	require.NoError(t, acker.Run(context.Background(), feed(reqs...), out))

	assert.ElementsMatch(t, reqs, drain(out))
	assert.Equal(t, 0, b.Unacked(testSubscription))
	assert.Equal(t, 2, b.AckCalls())
}

func TestAcknowledger_RunBoundsParallelism(t *testing.T) {
	const parallelism = 2
	var inFlight, maxInFlight atomic.Int32
	broker := &stubBroker{
		acknowledge: func(ctx context.Context, req *pubsub.AcknowledgeRequest) error {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	}
	acker, err := pubsub.NewAcknowledger(broker, pubsub.WithParallelism(parallelism))
	require.NoError(t, err)

	in := make(chan *pubsub.AcknowledgeRequest, 10)
	for i := 0; i < 10; i++ {
		in <- &pubsub.AcknowledgeRequest{Subscription: testSubscription, AckIDs: []string{"id"}}
	}
	close(in)
	out := make(chan *pubsub.AcknowledgeRequest, 10)

	require.NoError(t, acker.Run(context.Background(), in, out))
	assert.Len(t, drain(out), 10)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(parallelism))
}

func TestAcknowledger_RunFailsOnError(t *testing.T) {
	b := newMemoryBroker(t)
	b.OnAcknowledge(func(ctx context.Context) error { return status.Error(codes.DeadlineExceeded, "slow") })
	acker, err := pubsub.NewAcknowledger(b)
	require.NoError(t, err)

	out := make(chan *pubsub.AcknowledgeRequest, 1)
	err = acker.Run(context.Background(), feed(&pubsub.AcknowledgeRequest{Subscription: testSubscription, AckIDs: []string{"a"}}), out)

	assert.ErrorIs(t, err, pubsub.ErrTransport)
	assert.Empty(t, drain(out))
}
