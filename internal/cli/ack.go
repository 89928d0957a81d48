package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tsukikage7/pubsubflow/logger"
	"github.com/Tsukikage7/pubsubflow/pubsub"
	"github.com/Tsukikage7/pubsubflow/retry"
)

type ackOutput struct {
	Acked int `json:"acked"`
}

// newAckCommand 构建 ack 子命令.
func newAckCommand(a *app) *cobra.Command {
	var (
		subscription string
		retries      int
	)
	cmd := &cobra.Command{
		Use:   "ack [ack-id...]",
		Short: "确认消息",
		Long:  "确认参数中的 ack id；未指定时逐行读取标准输入. ack id 只在产生它的流与租约期内有效.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(cmd, func(ctx context.Context, c *pubsub.Client, log logger.Logger) error {
				ids := args
				if len(ids) == 0 {
					scanner := bufio.NewScanner(cmd.InOrStdin())
					for scanner.Scan() {
						if id := strings.TrimSpace(scanner.Text()); id != "" {
							ids = append(ids, id)
						}
					}
					if err := scanner.Err(); err != nil {
						return err
					}
				}

				acker, err := c.Acknowledger()
				if err != nil {
					return err
				}

				req := &pubsub.AcknowledgeRequest{Subscription: subscription, AckIDs: ids}
				err = retry.Do(ctx, func() error {
					return acker.Acknowledge(ctx, req)
				}).
					WithMaxAttempts(retries + 1).
					WithBackoff(100*time.Millisecond, 2*time.Second).
					If(pubsub.IsRetryable).
					OnRetry(func(attempt int, err error) {
						log.With(logger.Int("attempt", attempt), logger.Err(err)).Warn("[PubSub] 确认失败，准备重试")
					}).
					Run()
				if err != nil {
					return err
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(ackOutput{Acked: len(ids)})
			})
		},
	}
	cmd.Flags().StringVarP(&subscription, "subscription", "s", "", "订阅，格式 projects/{project}/subscriptions/{subscription}")
	cmd.Flags().IntVar(&retries, "retries", 3, "传输错误时的重试次数")
	_ = cmd.MarkFlagRequired("subscription")
	return cmd
}
