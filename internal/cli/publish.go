package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/pubsub"
	"github.com/Tsukikage7/pubsubflow/retry"
	"github.com/Tsukikage7/pubsubflow/stream"
)

type publishFlags struct {
	topic       string
	data        []string
	attrs       map[string]string
	orderingKey string
	batchSize   int
	linger      time.Duration
	retries     int
}

type publishOutput struct {
	MessageIDs []string `json:"message_ids"`
}

// newPublishCommand 构建 publish 子命令.
func newPublishCommand(a *app) *cobra.Command {
	f := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "发布消息",
		Long:  "发布 --data 指定的消息；未指定时逐行读取标准输入，每行一条消息.",
		Example: `  pubsubctl publish --topic projects/p/topics/t --data hello --attr source=cli
  cat events.txt | pubsubctl publish --topic projects/p/topics/t --batch-size 100`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *pubsub.Client, log logger.Logger) error {
				return runPublish(ctx, cmd, c, log, f)
			})
		},
	}
	cmd.Flags().StringVarP(&f.topic, "topic", "t", "", "主题，格式 projects/{project}/topics/{topic}")
	cmd.Flags().StringArrayVarP(&f.data, "data", "d", nil, "消息内容，可重复指定")
	cmd.Flags().StringToStringVarP(&f.attrs, "attr", "a", nil, "消息属性 key=value")
	cmd.Flags().StringVar(&f.orderingKey, "ordering-key", "", "排序键")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 1, "每个发布请求最多包含的消息数")
	cmd.Flags().DurationVar(&f.linger, "linger", 10*time.Millisecond, "凑批的最长等待时间")
	cmd.Flags().IntVar(&f.retries, "retries", 3, "传输错误时的重试次数")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runPublish(ctx context.Context, cmd *cobra.Command, c *pubsub.Client, log logger.Logger, f *publishFlags) error {
	if f.batchSize < 1 {
		return stream.ErrInvalidBatchSize
	}
	pub, err := c.Publisher()
	if err != nil {
		return err
	}
	log = log.With(logger.String("topic", f.topic))

	msgs := make(chan *pubsub.Message, f.batchSize)
	batches := make(chan []*pubsub.Message)
	resps := make(chan *pubsub.PublishResponse, pub.Parallelism())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(msgs)
		return readMessages(gctx, f, cmd.InOrStdin(), msgs)
	})
	g.Go(func() error {
		return stream.GroupedWithin(gctx, msgs, batches, f.batchSize, f.linger, nil)
	})
	g.Go(func() error {
		return stream.MapOrdered(gctx, batches, resps, pub.Parallelism(),
			func(ctx context.Context, batch []*pubsub.Message) (*pubsub.PublishResponse, error) {
				var resp *pubsub.PublishResponse
				err := retry.Do(ctx, func() error {
					var err error
					resp, err = pub.Publish(ctx, pubsub.Batch(f.topic, batch))
					return err
				}).
					WithMaxAttempts(f.retries+1).
					WithBackoff(100*time.Millisecond, 2*time.Second).
					If(pubsub.IsRetryable).
					OnRetry(func(attempt int, err error) {
						log.With(logger.Int("attempt", attempt), logger.Err(err)).Warn("[PubSub] 发布失败，准备重试")
					}).
					Run()
				return resp, err
			})
	})
	g.Go(func() error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		for resp := range resps {
			if err := enc.Encode(publishOutput{MessageIDs: resp.MessageIDs}); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// readMessages 将 --data 或标准输入的每一行转换为消息写入 out.
func readMessages(ctx context.Context, f *publishFlags, stdin io.Reader, out chan<- *pubsub.Message) error {
	emit := func(data []byte) error {
		msg := pubsub.NewMessage(data)
		msg.OrderingKey = f.orderingKey
		if len(f.attrs) > 0 {
			msg.Attributes = make(map[string]string, len(f.attrs))
			for k, v := range f.attrs {
				msg.Attributes[k] = v
			}
		}
		select {
		case out <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if len(f.data) > 0 {
		for _, d := range f.data {
			if err := emit([]byte(d)); err != nil {
				return err
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := emit(append([]byte(nil), line...)); err != nil {
			return err
		}
	}
	return scanner.Err()
}
