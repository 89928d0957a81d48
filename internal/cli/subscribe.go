package cli

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tsukikage7/pubsubflow/dedup"
	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/pubsub"
	"github.com/Tsukikage7/pubsubflow/stream"
)

type subscribeFlags struct {
	subscription string
	idleTimeout  time.Duration
	ack          bool
	max          int
	dedup        bool
	dedupTTL     time.Duration
	redisAddr    string
}

type messageOutput struct {
	MessageID       string            `json:"message_id"`
	AckID           string            `json:"ack_id"`
	Data            string            `json:"data"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	OrderingKey     string            `json:"ordering_key,omitempty"`
	PublishTime     time.Time         `json:"publish_time"`
	DeliveryAttempt int               `json:"delivery_attempt,omitempty"`
}

func toOutput(msg *pubsub.ReceivedMessage) messageOutput {
	out := messageOutput{AckID: msg.AckID, DeliveryAttempt: msg.DeliveryAttempt}
	if m := msg.Message; m != nil {
		out.MessageID = m.MessageID
		out.Data = string(m.Data)
		out.Attributes = m.Attributes
		out.OrderingKey = m.OrderingKey
		out.PublishTime = m.PublishTime
	}
	return out
}

// newSubscribeCommand 构建 subscribe 子命令.
func newSubscribeCommand(a *app) *cobra.Command {
	f := &subscribeFlags{}
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "订阅消息并逐行输出 JSON",
		Example: `  pubsubctl subscribe --subscription projects/p/subscriptions/s --ack --max 10
  pubsubctl subscribe --subscription projects/p/subscriptions/s --idle-timeout 30s --dedup`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *pubsub.Client, log logger.Logger) error {
				return runSubscribe(ctx, cmd, c, log, f)
			})
		},
	}
	cmd.Flags().StringVarP(&f.subscription, "subscription", "s", "", "订阅，格式 projects/{project}/subscriptions/{subscription}")
	cmd.Flags().DurationVar(&f.idleTimeout, "idle-timeout", 0, "连续多久没有消息后退出，0 表示不限")
	cmd.Flags().BoolVar(&f.ack, "ack", false, "输出后确认消息")
	cmd.Flags().IntVar(&f.max, "max", 0, "收到多少条消息后退出，0 表示不限")
	cmd.Flags().BoolVar(&f.dedup, "dedup", false, "按 MessageID 过滤重复投递")
	cmd.Flags().DurationVar(&f.dedupTTL, "dedup-ttl", dedup.DefaultTTL, "去重记录保留时间")
	cmd.Flags().StringVar(&f.redisAddr, "redis-addr", "", "去重记录存放的 Redis 地址，为空时使用内存")
	_ = cmd.MarkFlagRequired("subscription")
	return cmd
}

func runSubscribe(ctx context.Context, cmd *cobra.Command, c *pubsub.Client, log logger.Logger, f *subscribeFlags) error {
	sub, err := c.Subscriber(&pubsub.StreamingPullRequest{Subscription: f.subscription})
	if err != nil {
		return err
	}
	log = log.With(logger.String("subscription", f.subscription))

	var acker *pubsub.Acknowledger
	if f.ack {
		if acker, err = c.Acknowledger(); err != nil {
			return err
		}
	}

	var filter *dedup.Filter
	if f.dedup {
		var closeStore func()
		if filter, closeStore, err = newDedupFilter(f, acker, log); err != nil {
			return err
		}
		defer closeStore()
	}

	subCtx, stop := context.WithCancel(ctx)
	defer stop()

	// 确认流使用外层 ctx，订阅结束后仍能确认已输出的消息
	acks := make(chan *pubsub.AcknowledgeRequest, c.BufferSize())
	ackDone := make(chan error, 1)
	if acker != nil {
		acked := make(chan *pubsub.AcknowledgeRequest, c.BufferSize())
		go func() {
			for range acked {
			}
		}()
		go func() {
			err := acker.Run(ctx, acks, acked)
			if err != nil {
				stop()
			}
			for range acks {
			}
			ackDone <- err
		}()
	} else {
		close(ackDone)
	}

	g, gctx := errgroup.WithContext(subCtx)

	received := make(chan *pubsub.ReceivedMessage, c.BufferSize())
	g.Go(func() error { return sub.Run(gctx, received) })

	src := (<-chan *pubsub.ReceivedMessage)(received)
	if f.idleTimeout > 0 {
		idled := make(chan *pubsub.ReceivedMessage)
		in := src
		g.Go(func() error { return stream.IdleTimeout(gctx, in, idled, f.idleTimeout, nil) })
		src = idled
	}
	if filter != nil {
		unique := make(chan *pubsub.ReceivedMessage)
		in := src
		g.Go(func() error { return filter.Run(gctx, in, unique) })
		src = unique
	}

	consumeErr := consume(ctx, cmd, src, acks, f, stop)
	close(acks)

	runErr := g.Wait()
	ackErr := <-ackDone

	if errors.Is(runErr, stream.ErrIdleTimeout) {
		log.With(logger.Duration("idle_timeout", f.idleTimeout)).Info("[PubSub] 空闲超时，结束订阅")
	}
	if isStop(runErr) {
		runErr = nil
	}
	if isStop(ackErr) {
		ackErr = nil
	}
	return errors.Join(consumeErr, runErr, ackErr)
}

// consume 输出消息并提交确认，达到 max 时调用 stop 结束订阅.
func consume(ctx context.Context, cmd *cobra.Command, src <-chan *pubsub.ReceivedMessage,
	acks chan<- *pubsub.AcknowledgeRequest, f *subscribeFlags, stop context.CancelFunc) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	n := 0
	for msg := range src {
		if err := enc.Encode(toOutput(msg)); err != nil {
			stop()
			return err
		}
		if f.ack {
			select {
			case acks <- pubsub.AckRequest(f.subscription, msg):
			case <-ctx.Done():
				return nil
			}
		}
		n++
		if f.max > 0 && n >= f.max {
			stop()
			return nil
		}
	}
	return nil
}

// newDedupFilter 创建去重过滤器；指定 --redis-addr 时多个消费者共享去重记录.
func newDedupFilter(f *subscribeFlags, acker *pubsub.Acknowledger, log logger.Logger) (*dedup.Filter, func(), error) {
	var (
		store   dedup.Store
		closeFn func()
	)
	if f.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: f.redisAddr})
		store = dedup.NewRedisStore(client)
		closeFn = func() { _ = client.Close() }
	} else {
		s := dedup.NewMemoryStore()
		store = s
		closeFn = func() { _ = s.Close() }
	}

	opts := []dedup.Option{dedup.WithTTL(f.dedupTTL), dedup.WithLogger(log)}
	if acker != nil {
		opts = append(opts, dedup.WithOnDuplicate(func(ctx context.Context, msg *pubsub.ReceivedMessage) {
			if err := acker.Acknowledge(ctx, pubsub.AckRequest(f.subscription, msg)); err != nil {
				log.With(logger.String("ack_id", msg.AckID), logger.Err(err)).Warn("[PubSub] 确认重复消息失败")
			}
		}))
	}

	filter, err := dedup.NewFilter(store, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return filter, closeFn, nil
}

// isStop 判断错误是否为正常结束：主动取消或空闲超时.
func isStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, stream.ErrIdleTimeout)
}
