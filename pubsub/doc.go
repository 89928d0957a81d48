// Package pubsub 提供基于流式拉取的 Pub/Sub 客户端.
//
// 三个数据面组件均以 channel 作为输入输出，Run 阻塞直到完成并在返回时关闭输出:
//
//   - Publisher: 发布请求 → 发布响应，按请求顺序输出，最多 parallelism 个并发 RPC
//   - Subscriber: 打开流式拉取，按到达顺序输出消息，流结束后按 pollInterval 重新打开
//   - Acknowledger: 确认请求 → 已被 broker 接受的确认请求，不保证顺序
//
// 三者共享同一个 Broker（一条 RPC 连接），可用 errgroup 组合:
//
//	msgs := make(chan *pubsub.ReceivedMessage, 16)
//	acks := make(chan *pubsub.AcknowledgeRequest)
//	done := make(chan *pubsub.AcknowledgeRequest)
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(func() error { return sub.Run(ctx, msgs) })
//	g.Go(func() error { return acker.Run(ctx, acks, done) })
//	...
//
// 投递语义为至少一次：未在确认期限内确认的消息会被重新投递.
package pubsub
