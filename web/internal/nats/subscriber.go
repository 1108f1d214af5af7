package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	sharedNats "github.com/incyashraj/ParkShare-sub000/shared/nats"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
	"github.com/incyashraj/ParkShare-sub000/shared/workerpool"
)

// UpstreamHandler 上行消息处理器
type UpstreamHandler interface {
	HandleStatusUpdate(ctx context.Context, userID int64, update *proto.StatusUpdate) error
	HandleUserOnline(ctx context.Context, event *proto.UserOnline, nodeID string)
	HandleUserOffline(ctx context.Context, event *proto.UserOffline, nodeID string)
}

type SubscriberConfig struct {
	WorkerCount int
	BufferSize  int
}

// UpstreamSubscriber 消费 access 上行消息
// 按用户 ID 分片到 workerpool，同一用户的状态回执按到达顺序处理，队列满时反压而不丢弃
type UpstreamSubscriber struct {
	nc      *nats.Conn
	handler UpstreamHandler
	config  SubscriberConfig
	logger  *slog.Logger

	ctx      context.Context
	pool     *workerpool.Pool
	sub      *nats.Subscription
	rejected atomic.Int64
}

func NewUpstreamSubscriber(nc *nats.Conn, handler UpstreamHandler, config SubscriberConfig) *UpstreamSubscriber {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 16
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}
	return &UpstreamSubscriber{
		nc:      nc,
		handler: handler,
		config:  config,
		logger:  slog.Default().With("component", "subscriber"),
	}
}

// Start 以队列组订阅：多个 web 实例之间负载均衡，每条上行消息只处理一次
func (s *UpstreamSubscriber) Start(ctx context.Context) error {
	s.ctx = ctx
	s.pool = workerpool.New(s.config.WorkerCount, s.config.BufferSize, s.logger)

	sub, err := s.nc.QueueSubscribe(sharedNats.SubjectUpstream, sharedNats.QueueGroupWeb, s.receive)
	if err != nil {
		s.pool.Shutdown()
		return err
	}
	s.sub = sub

	s.logger.Info("NATS subscriber started",
		"subject", sharedNats.SubjectUpstream,
		"workers", s.config.WorkerCount,
		"buffer", s.config.BufferSize)
	return nil
}

func (s *UpstreamSubscriber) receive(msg *nats.Msg) {
	var message proto.UpstreamMessage
	if err := json.Unmarshal(msg.Data, &message); err != nil {
		s.logger.Error("Failed to unmarshal upstream message", "error", err)
		return
	}
	// 队列满时阻塞 NATS 回调，积压留在订阅的待处理缓冲里，回执不会丢
	if !s.pool.Submit(s.ctx, message.UserID, func() { dispatchUpstream(s.ctx, s.handler, s.logger, &message) }) {
		s.rejected.Add(1)
		s.logger.Warn("Subscriber stopping, upstream message not processed", "userId", message.UserID, "nodeId", message.NodeID)
	}
}

// dispatchUpstream 按消息类型分发
func dispatchUpstream(ctx context.Context, handler UpstreamHandler, logger *slog.Logger, message *proto.UpstreamMessage) {
	switch {
	case message.StatusUpdate != nil:
		if err := handler.HandleStatusUpdate(ctx, message.UserID, message.StatusUpdate); err != nil {
			logger.Warn("Status update rejected",
				"userId", message.UserID,
				"messageId", message.StatusUpdate.MessageID,
				"status", message.StatusUpdate.Status,
				"error", err)
		}
	case message.UserOnline != nil:
		handler.HandleUserOnline(ctx, message.UserOnline, message.NodeID)
	case message.UserOffline != nil:
		handler.HandleUserOffline(ctx, message.UserOffline, message.NodeID)
	default:
		logger.Debug("Ignoring empty upstream message", "nodeId", message.NodeID)
	}
}

// Stop 取消订阅并等待处理中的消息完成，队列中尚未开始的消息被丢弃
func (s *UpstreamSubscriber) Stop() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe", "error", err)
		}
	}
	if s.pool != nil {
		s.pool.Shutdown()
	}
	s.logger.Info("NATS subscriber stopped")
	return nil
}

// Rejected 停止过程中未能入队的消息数
func (s *UpstreamSubscriber) Rejected() int64 {
	return s.rejected.Load()
}
