package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/pubsub"
	"github.com/Tsukikage7/pubsubflow/pubsub/pubsubtest"
)

const (
	testTopic        = "projects/cli/topics/events"
	testSubscription = "projects/cli/subscriptions/events-sub"
)

func newTestBroker(t *testing.T) *pubsubtest.Broker {
	t.Helper()
	b := pubsubtest.NewBroker()
	require.NoError(t, b.CreateTopic(testTopic))
	require.NoError(t, b.CreateSubscription(testSubscription, testTopic))
	return b
}

// execute 使用内存 Broker 执行命令，返回标准输出.
func execute(t *testing.T, b pubsub.Broker, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(
		WithLogger(logger.Nop()),
		WithClientFactory(func(cfg *Config, log logger.Logger) (*pubsub.Client, error) {
			return pubsub.NewClient(
				pubsub.WithBroker(b),
				pubsub.WithSettings(&cfg.Settings),
				pubsub.WithClientLogger(log),
			)
		}),
	)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func decodeLines[T any](t *testing.T, s string) []T {
	t.Helper()
	var out []T
	dec := json.NewDecoder(strings.NewReader(s))
	for dec.More() {
		var v T
		require.NoError(t, dec.Decode(&v))
		out = append(out, v)
	}
	return out
}

func TestPublishSubscribeAck(t *testing.T) {
	b := newTestBroker(t)

	out, err := execute(t, b, "",
		"publish", "--topic", testTopic, "--data", "hello", "--data", "world", "--attr", "source=cli")
	require.NoError(t, err)

	published := decodeLines[publishOutput](t, out)
	require.Len(t, published, 2)
	for _, p := range published {
		assert.Len(t, p.MessageIDs, 1)
	}
	assert.Equal(t, 2, b.Unacked(testSubscription))

	out, err = execute(t, b, "",
		"subscribe", "--subscription", testSubscription, "--max", "2", "--ack")
	require.NoError(t, err)

	received := decodeLines[messageOutput](t, out)
	require.Len(t, received, 2)
	assert.Equal(t, "hello", received[0].Data)
	assert.Equal(t, "world", received[1].Data)
	assert.Equal(t, published[0].MessageIDs[0], received[0].MessageID)
	assert.Equal(t, "cli", received[0].Attributes["source"])
	assert.NotEmpty(t, received[0].AckID)

	assert.Equal(t, 0, b.Unacked(testSubscription))
}

func TestPublish_StdinBatch(t *testing.T) {
	b := newTestBroker(t)

	out, err := execute(t, b, "one\n\ntwo\nthree\n",
		"publish", "--topic", testTopic, "--batch-size", "10", "--linger", "1s")
	require.NoError(t, err)

	published := decodeLines[publishOutput](t, out)
	require.Len(t, published, 1)
	assert.Len(t, published[0].MessageIDs, 3)
	assert.Equal(t, 1, b.PublishCalls())
}

func TestPublish_Errors(t *testing.T) {
	b := newTestBroker(t)

	t.Run("缺少 topic", func(t *testing.T) {
		_, err := execute(t, b, "", "publish", "--data", "x")
		assert.Error(t, err)
	})

	t.Run("主题不存在", func(t *testing.T) {
		_, err := execute(t, b, "", "publish", "--topic", "projects/cli/topics/missing", "--data", "x")
		assert.ErrorIs(t, err, pubsub.ErrRejected)
	})

	t.Run("非法批大小", func(t *testing.T) {
		_, err := execute(t, b, "", "publish", "--topic", testTopic, "--data", "x", "--batch-size", "0")
		assert.Error(t, err)
	})
}

func TestSubscribe_IdleTimeout(t *testing.T) {
	b := newTestBroker(t)

	out, err := execute(t, b, "",
		"subscribe", "--subscription", testSubscription, "--idle-timeout", "50ms")

	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSubscribe_Dedup(t *testing.T) {
	b := newTestBroker(t)
	_, err := execute(t, b, "", "publish", "--topic", testTopic, "--data", "once")
	require.NoError(t, err)

	out, err := execute(t, b, "",
		"subscribe", "--subscription", testSubscription, "--dedup", "--ack", "--idle-timeout", "100ms")
	require.NoError(t, err)

	received := decodeLines[messageOutput](t, out)
	require.Len(t, received, 1)
	assert.Equal(t, "once", received[0].Data)
	assert.Equal(t, 0, b.Unacked(testSubscription))
}

func TestAck(t *testing.T) {
	b := newTestBroker(t)

	t.Run("空输入", func(t *testing.T) {
		out, err := execute(t, b, "", "ack", "--subscription", testSubscription)
		require.NoError(t, err)
		assert.JSONEq(t, `{"acked":0}`, out)
		assert.Equal(t, 0, b.AckCalls())
	})

	t.Run("订阅不存在", func(t *testing.T) {
		_, err := execute(t, b, "", "ack", "--subscription", "projects/cli/subscriptions/missing", "ack-1")
		assert.ErrorIs(t, err, pubsub.ErrRejected)
	})
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pubsub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoint:
  host: localhost
  port: 8538
  use_plaintext: true
subscriber:
  ack_deadline_seconds: 20
log:
  level: debug
metrics_addr: ":9100"
`), 0o600))

	a := &app{configPath: path, logLevel: "warn"}
	cfg, err := a.loadConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8538", cfg.Endpoint.Address())
	assert.True(t, cfg.Endpoint.UsePlaintext)
	assert.Equal(t, 20, cfg.Subscriber.AckDeadlineSeconds)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, logger.OutputStderr, cfg.Log.Output)
	assert.Equal(t, ":9100", cfg.MetricsAddr)

	a.logLevel = "loud"
	_, err = a.loadConfig()
	assert.Error(t, err)
}
