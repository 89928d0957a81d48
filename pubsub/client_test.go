package pubsub_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/metrics"
	"github.com/Tsukikage7/pubsubflow/pubsub"
)

func TestNewClient_RequiresBroker(t *testing.T) {
	_, err := pubsub.NewClient()
	assert.ErrorIs(t, err, pubsub.ErrNilBroker)
}

func TestClient_Factories(t *testing.T) {
	b := newMemoryBroker(t)
	settings := &pubsub.Settings{
		Publisher:    pubsub.PublisherSettings{Parallelism: 4},
		Acknowledger: pubsub.AcknowledgerSettings{Parallelism: 3},
		Subscriber: pubsub.SubscriberSettings{
			PollInterval:           50 * time.Millisecond,
			AckDeadlineSeconds:     20,
			BufferSize:             8,
			MaxOutstandingMessages: 100,
		},
	}

	var seen *pubsub.StreamingPullRequest
	stub := &stubBroker{
		pull: func(ctx context.Context, req *pubsub.StreamingPullRequest) (pubsub.PullStream, error) {
			seen = req
			return b.StreamingPull(ctx, req)
		},
	}

	client, err := pubsub.NewClient(
		pubsub.WithBroker(stub),
		pubsub.WithSettings(settings),
		pubsub.WithClientLogger(logger.Nop()),
		pubsub.WithClientMetrics(metrics.MustNewMetrics(&metrics.Config{Namespace: "client"})),
		pubsub.WithClientTracing("pubsub-test"),
	)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, stub, client.Broker())
	assert.Equal(t, 8, client.BufferSize())
	assert.NotNil(t, client.Collector())

	pub, err := client.Publisher()
	require.NoError(t, err)
	assert.Equal(t, 4, pub.Parallelism())

	pub, err = client.Publisher(pubsub.WithParallelism(2))
	require.NoError(t, err)
	assert.Equal(t, 2, pub.Parallelism())

	acker, err := client.Acknowledger()
	require.NoError(t, err)
	assert.Equal(t, 3, acker.Parallelism())

	sub, err := client.Subscriber(&pubsub.StreamingPullRequest{Subscription: testSubscription})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sub.Run(ctx, make(chan *pubsub.ReceivedMessage)) }()
	require.Eventually(t, func() bool { return sub.State() == pubsub.StateStreaming }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, recvWithin(t, errc, time.Second))

	require.NotNil(t, seen)
	assert.Equal(t, 20, seen.AckDeadlineSeconds)
	assert.Equal(t, int64(100), seen.MaxOutstandingMessages)
}

func TestClient_Closed(t *testing.T) {
	client, err := pubsub.NewClient(pubsub.WithBroker(newMemoryBroker(t)))
	require.NoError(t, err)

	require.NoError(t, client.HealthCheck(context.Background()))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err = client.Publisher()
	assert.ErrorIs(t, err, pubsub.ErrClientClosed)
	_, err = client.Subscriber(pullRequest())
	assert.ErrorIs(t, err, pubsub.ErrClientClosed)
	_, err = client.Acknowledger()
	assert.ErrorIs(t, err, pubsub.ErrClientClosed)
	assert.ErrorIs(t, client.HealthCheck(context.Background()), pubsub.ErrClientClosed)
}

func TestClient_SubscriberNilRequest(t *testing.T) {
	client, err := pubsub.NewClient(pubsub.WithBroker(newMemoryBroker(t)))
	require.NoError(t, err)

	_, err = client.Subscriber(nil)
	assert.ErrorIs(t, err, pubsub.ErrEmptySubscription)
}

func TestNewClientFromSettings(t *testing.T) {
	t.Run("非法配置", func(t *testing.T) {
		s := pubsub.DefaultSettings()
		s.Subscriber.AckDeadlineSeconds = 5

		_, err := pubsub.NewClientFromSettings(s, nil)
		assert.ErrorIs(t, err, pubsub.ErrInvalidSettings)
	})

	t.Run("惰性连接", func(t *testing.T) {
		s := &pubsub.Settings{
			Endpoint: pubsub.EndpointSettings{Host: "127.0.0.1", Port: 18085, UsePlaintext: true},
		}

		client, err := pubsub.NewClientFromSettings(s, logger.Nop())
		require.NoError(t, err)

		assert.IsType(t, &pubsub.GRPCBroker{}, client.Broker())
		assert.NotNil(t, client.Collector())
		assert.Equal(t, "127.0.0.1:18085", client.Settings().Endpoint.Address())

		require.NoError(t, client.Shutdown(context.Background()))
		require.NoError(t, client.Close())
	})
}
