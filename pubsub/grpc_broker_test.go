package pubsub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/pubsub"
	"github.com/Tsukikage7/pubsubflow/pubsub/pubsubtest"
	grpcclient "github.com/Tsukikage7/pubsubflow/transport/grpc/client"
)

func newGRPCBroker(t *testing.T, opts ...pubsubtest.Option) (*pubsub.GRPCBroker, *pubsubtest.Broker) {
	t.Helper()

	mem := newMemoryBroker(t, opts...)
	srv := pubsubtest.NewServer(mem)
	t.Cleanup(srv.Close)

	conn, err := grpcclient.New(
		grpcclient.WithTarget(pubsubtest.Target),
		grpcclient.WithPlaintext(),
		grpcclient.WithLogger(logger.Nop()),
		grpcclient.WithDialOptions(srv.DialOption()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return pubsub.NewGRPCBroker(conn.Conn()), mem
}

func TestGRPCBroker_LabasScenario(t *testing.T) {
	broker, mem := newGRPCBroker(t)
	assert.NotEmpty(t, broker.ClientID())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub, err := pubsub.NewPublisher(broker)
	require.NoError(t, err)

	responses := make(chan *pubsub.PublishResponse, 1)
	require.NoError(t, pub.Run(ctx, feed(pubsub.Batch(testTopic, []*pubsub.Message{{
		Data:       []byte("Labas!"),
		Attributes: map[string]string{"lang": "lt"},
	}})), responses))
	published := drain(responses)
	require.Len(t, published, 1)
	require.Len(t, published[0].MessageIDs, 1)

	first, second := labasScenario(t, broker, mem, published[0].MessageIDs[0])

	for _, m := range []*pubsub.ReceivedMessage{first, second} {
		assert.Equal(t, "lt", m.Message.Attributes["lang"])
		assert.False(t, m.Message.PublishTime.IsZero())
	}
	assert.NotEqual(t, first.AckID, second.AckID)
}

func TestGRPCBroker_Errors(t *testing.T) {
	broker, _ := newGRPCBroker(t)
	ctx := context.Background()

	_, err := broker.Publish(ctx, pubsub.Batch("projects/alpakka/topics/missing", []*pubsub.Message{pubsub.NewMessage(nil)}))
	assert.ErrorIs(t, err, pubsub.ErrRejected)

	err = broker.Acknowledge(ctx, &pubsub.AcknowledgeRequest{Subscription: "projects/alpakka/subscriptions/missing", AckIDs: []string{"a"}})
	assert.ErrorIs(t, err, pubsub.ErrRejected)

	// 服务端在首个请求后拒绝，错误在打开阶段即可得到或在首次 Recv 时得到
	st, err := broker.StreamingPull(ctx, &pubsub.StreamingPullRequest{
		Subscription:       "projects/alpakka/subscriptions/missing",
		AckDeadlineSeconds: 10,
	})
	if err == nil {
		defer st.Close()
		_, err = st.Recv()
	}
	assert.ErrorIs(t, err, pubsub.ErrRejected)
}

func TestGRPCBroker_SubscriberReopensAfterServerEndsStream(t *testing.T) {
	broker, mem := newGRPCBroker(t, pubsubtest.WithIdleClose(20*time.Millisecond))

	sub, err := pubsub.NewSubscriber(broker, pullRequest(), pubsub.WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *pubsub.ReceivedMessage, 1)
	errc := make(chan error, 1)
	go func() { errc <- sub.Run(ctx, out) }()

	require.Eventually(t, func() bool { return mem.StreamsOpened() >= 3 }, 2*time.Second, time.Millisecond)

	pub, err := pubsub.NewPublisher(broker)
	require.NoError(t, err)
	_, err = pub.Publish(ctx, pubsub.Batch(testTopic, []*pubsub.Message{pubsub.NewMessage([]byte("late"))}))
	require.NoError(t, err)
	assert.Equal(t, "late", string(recvWithin(t, out, 2*time.Second).Message.Data))

	cancel()
	require.NoError(t, recvWithin(t, errc, time.Second))
	require.Eventually(t, func() bool { return mem.OpenStreams() == 0 }, time.Second, time.Millisecond)
}

func TestGRPCBroker_ClientIDOverride(t *testing.T) {
	broker, mem := newGRPCBroker(t)

	st, err := broker.StreamingPull(context.Background(), &pubsub.StreamingPullRequest{
		Subscription:       testSubscription,
		AckDeadlineSeconds: 10,
		ClientID:           "custom-client",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return mem.OpenStreams() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	require.Eventually(t, func() bool { return mem.OpenStreams() == 0 }, time.Second, time.Millisecond)
}
