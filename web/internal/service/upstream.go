package service

import (
	"context"
	"log/slog"

	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// UpstreamService 处理 Access 转发的上行事件
type UpstreamService struct {
	messages *MessageService
	logger   *slog.Logger
}

// NewUpstreamService 创建上行事件处理服务
func NewUpstreamService(messages *MessageService) *UpstreamService {
	return &UpstreamService{
		messages: messages,
		logger:   slog.Default().With("service", "upstream"),
	}
}

// HandleStatusUpdate 接收方上报 delivered / read
func (s *UpstreamService) HandleStatusUpdate(ctx context.Context, userId int64, update *proto.StatusUpdate) error {
	return s.messages.ApplyStatus(ctx, userId, update)
}

// HandleUserOnline 用户上线（在线状态由 Access 维护，这里只记录）
func (s *UpstreamService) HandleUserOnline(_ context.Context, event *proto.UserOnline, accessNodeId string) {
	s.logger.Debug("User online", "userId", event.UserID, "connId", event.ConnID, "platform", event.Platform, "accessNodeId", accessNodeId)
}

// HandleUserOffline 用户下线
func (s *UpstreamService) HandleUserOffline(_ context.Context, event *proto.UserOffline, accessNodeId string) {
	s.logger.Debug("User offline", "userId", event.UserID, "connId", event.ConnID, "accessNodeId", accessNodeId)
}
