package pubsub

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/Tsukikage7/pubsubflow/logger"
)

const opStreamingPull = "streaming_pull"

// State 订阅源状态.
type State int32

const (
	// StateIdle 没有打开的流，等待打开.
	StateIdle State = iota
	// StateStreaming 流已打开，正在输出消息.
	StateStreaming
	// StateEnded broker 结束了流，等待 pollInterval 后重新打开.
	StateEnded
	// StateCanceled 已取消，不再输出消息.
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateEnded:
		return "ended"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Subscriber 订阅源.
//
// 状态机 Idle → Streaming → Ended → Idle，取消后进入终态 Canceled.
// 两次打开流之间至少间隔 pollInterval.
// 输出 channel 满时停止读取流，上一批消息全部交给下游之前不会读取下一批.
type Subscriber struct {
	broker Broker
	req    StreamingPullRequest
	opts   *options
	state  atomic.Int32
	log    logger.Logger
}

// NewSubscriber 创建订阅源.
//
// 使用示例:
//
//	sub, err := pubsub.NewSubscriber(broker, &pubsub.StreamingPullRequest{
//	    Subscription:       pubsub.SubscriptionPath("alpakka", "testSubscription"),
//	    AckDeadlineSeconds: 10,
//	}, pubsub.WithPollInterval(time.Second))
func NewSubscriber(broker Broker, req *StreamingPullRequest, opts ...Option) (*Subscriber, error) {
	if broker == nil {
		return nil, ErrNilBroker
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	if o.pollInterval < 0 {
		o.pollInterval = 0
	}

	return &Subscriber{
		broker: broker,
		req:    *req,
		opts:   o,
		log:    o.logger.With(logger.String("subscription", req.Subscription)),
	}, nil
}

// State 返回当前状态.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) setState(st State) {
	s.state.Store(int32(st))
}

// Run 持续拉取消息并输出到 out，返回时关闭 out.
//
// ctx 取消时关闭当前流并返回 nil.
// 打开流时的传输错误直接返回；broker 拒绝打开或流以错误结束时进入 Ended，稍后重新打开.
func (s *Subscriber) Run(ctx context.Context, out chan<- *ReceivedMessage) error {
	defer close(out)

	var (
		lastOpen time.Time
		opened   bool
		failures int
	)

	for {
		s.setState(StateIdle)
		if opened {
			if !s.waitPoll(ctx, lastOpen) {
				return s.cancel()
			}
		}
		if ctx.Err() != nil {
			return s.cancel()
		}

		lastOpen = s.opts.clock.Now()
		opened = true

		delivered, err := s.stream(ctx, out)
		if ctx.Err() != nil {
			return s.cancel()
		}
		s.setState(StateEnded)

		switch {
		case err == nil:
			failures = 0
			continue
		case errors.Is(err, ErrTransport) && delivered < 0:
			// 打开阶段的传输错误
			s.log.With(logger.Err(err)).Error("[PubSub] 打开流式拉取失败")
			return err
		}

		if delivered > 0 {
			failures = 0
		}
		failures++
		if s.opts.maxStreamFailures > 0 && failures >= s.opts.maxStreamFailures {
			s.log.With(logger.Err(err), logger.Int("failures", failures)).Error("[PubSub] 流式拉取连续失败")
			return err
		}
	}
}

// waitPoll 等待到距上次打开满 pollInterval，ctx 取消时返回 false.
func (s *Subscriber) waitPoll(ctx context.Context, lastOpen time.Time) bool {
	wait := s.opts.pollInterval - s.opts.clock.Now().Sub(lastOpen)
	if wait <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-s.opts.clock.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Subscriber) cancel() error {
	s.setState(StateCanceled)
	s.log.Debug("[PubSub] 订阅源已取消")
	return nil
}

// stream 打开一条流并输出其中的消息，直到流结束.
//
// delivered 为 -1 表示流未能打开；流以 io.EOF 结束时 err 为 nil.
func (s *Subscriber) stream(ctx context.Context, out chan<- *ReceivedMessage) (delivered int, err error) {
	sctx, span := s.opts.tracer.startStreamSpan(ctx, s.req.Subscription)
	defer func() {
		s.opts.tracer.setError(span, err)
		span.End()
	}()

	log := s.log.WithContext(sctx)
	s.opts.metrics.RecordStreamOpen(s.req.Subscription)
	req := s.req
	st, err := s.broker.StreamingPull(sctx, &req)
	if err = classify(ctx, opStreamingPull, err); err != nil {
		if errors.Is(err, ErrRejected) {
			log.With(logger.Err(err)).Warn("[PubSub] broker 拒绝打开流式拉取")
			s.opts.metrics.RecordStreamEnd(s.req.Subscription, "rejected")
			return 0, err
		}
		return -1, err
	}
	defer st.Close()

	s.setState(StateStreaming)
	log.Debug("[PubSub] 流式拉取已打开")

	for {
		batch, recvErr := st.Recv()
		if recvErr != nil {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			if errors.Is(recvErr, io.EOF) {
				log.With(logger.Int("delivered", delivered)).Info("[PubSub] broker 结束了流式拉取")
				s.opts.metrics.RecordStreamEnd(s.req.Subscription, "eof")
				return delivered, nil
			}
			err = classify(ctx, opStreamingPull, recvErr)
			log.With(logger.Err(err), logger.Int("delivered", delivered)).Warn("[PubSub] 流式拉取异常结束")
			s.opts.metrics.RecordStreamEnd(s.req.Subscription, "error")
			return delivered, err
		}

		s.opts.metrics.RecordReceive(s.req.Subscription, len(batch))
		for _, m := range batch {
			select {
			case out <- m:
				delivered++
			case <-ctx.Done():
				return delivered, ctx.Err()
			}
		}
	}
}
