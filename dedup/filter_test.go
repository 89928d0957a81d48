package dedup

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/pubsubflow/metrics"
	"github.com/Tsukikage7/pubsubflow/pubsub"
)

func received(id string, attempt int) *pubsub.ReceivedMessage {
	return &pubsub.ReceivedMessage{
		Message:         &pubsub.Message{Data: []byte(id), MessageID: id},
		AckID:           "ack-" + id,
		DeliveryAttempt: attempt,
	}
}

func feed(msgs ...*pubsub.ReceivedMessage) <-chan *pubsub.ReceivedMessage {
	ch := make(chan *pubsub.ReceivedMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return ch
}

// failingStore Mark 总是失败.
type failingStore struct{ err error }

func (s failingStore) Mark(context.Context, string, time.Duration) (bool, error) { return false, s.err }
func (s failingStore) Forget(context.Context, string) error                      { return nil }
func (s failingStore) Close() error                                              { return nil }

func TestNewFilter_NilStore(t *testing.T) {
	_, err := NewFilter(nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestFilter_Run(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	collector := metrics.MustNewMetrics(&metrics.Config{Namespace: "dedup", Path: "/metrics"})

	var (
		mu         sync.Mutex
		duplicates []string
	)
	f, err := NewFilter(store,
		WithTTL(time.Minute),
		WithMetrics(collector),
		WithOnDuplicate(func(_ context.Context, msg *pubsub.ReceivedMessage) {
			mu.Lock()
			defer mu.Unlock()
			duplicates = append(duplicates, msg.AckID)
		}),
	)
	require.NoError(t, err)

	noID := &pubsub.ReceivedMessage{Message: &pubsub.Message{Data: []byte("x")}, AckID: "ack-x"}
	in := feed(
		received("a", 1),
		received("b", 1),
		received("a", 2),
		noID,
		noID,
		received("b", 2),
		received("c", 1),
	)
	out := make(chan *pubsub.ReceivedMessage, 8)

	require.NoError(t, f.Run(context.Background(), in, out))

	var ids []string
	for msg := range out {
		ids = append(ids, msg.AckID)
	}
	assert.Equal(t, []string{"ack-a", "ack-b", "ack-x", "ack-x", "ack-c"}, ids)
	assert.Equal(t, []string{"ack-a", "ack-b"}, duplicates)

	rec := httptest.NewRecorder()
	collector.GetHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dedup_duplicate_messages_total 2")
}

func TestFilter_StoreError(t *testing.T) {
	boom := errors.New("boom")

	t.Run("默认终止", func(t *testing.T) {
		f, err := NewFilter(failingStore{err: boom})
		require.NoError(t, err)

		out := make(chan *pubsub.ReceivedMessage, 1)
		err = f.Run(context.Background(), feed(received("a", 1)), out)

		assert.ErrorIs(t, err, boom)
		_, ok := <-out
		assert.False(t, ok)
	})

	t.Run("跳过错误", func(t *testing.T) {
		f, err := NewFilter(failingStore{err: boom}, WithSkipOnError(true))
		require.NoError(t, err)

		out := make(chan *pubsub.ReceivedMessage, 2)
		require.NoError(t, f.Run(context.Background(), feed(received("a", 1), received("a", 2)), out))

		assert.Len(t, out, 2)
	})
}

func TestFilter_Cancel(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	f, err := NewFilter(store)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan *pubsub.ReceivedMessage)
	out := make(chan *pubsub.ReceivedMessage)

	errc := make(chan error, 1)
	go func() { errc <- f.Run(ctx, in, out) }()

	cancel()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run 未在取消后返回")
	}
	_, ok := <-out
	assert.False(t, ok)
}

func TestFilter_Allow(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	f, err := NewFilter(store)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := f.Allow(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Allow(ctx, received("a", 1))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Allow(ctx, received("a", 2))
	require.NoError(t, err)
	assert.False(t, ok)
}
