package service

import (
	"context"
	"log/slog"

	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// notifier 构建并发布下行事件
// 发布失败只记录日志：写库已成功，客户端会在下次拉取时补齐
type notifier struct {
	publisher EventPublisher
	logger    *slog.Logger
}

// notify 推送到会话房间，并额外推送给 users（无论是否在房间内）
func (n *notifier) notify(ctx context.Context, conversationId int64, users []int64, event string, data any) {
	if n.publisher == nil {
		return
	}

	ev, err := proto.NewEvent(event, data)
	if err != nil {
		n.logger.Error("Failed to build event", "event", event, "error", err)
		return
	}

	msg := &proto.DownstreamMessage{
		ConversationID: conversationId,
		Users:          users,
		Event:          ev,
	}
	if err := n.publisher.PublishDownstream(ctx, msg); err != nil {
		n.logger.Warn("Failed to publish event",
			"event", event,
			"conversationId", conversationId,
			"error", err,
		)
	}
}
