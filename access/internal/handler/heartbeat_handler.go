package handler

import (
	"context"
	"encoding/json"

	"github.com/incyashraj/ParkShare-sub000/access/internal/connection"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// HeartbeatAck 心跳响应
type HeartbeatAck struct {
	ServerTime int64 `json:"serverTime"`
}

// handleHeartbeat 处理心跳：刷新连接活跃时间、在线状态与位置 TTL
func (h *Handler) handleHeartbeat(ctx context.Context, conn *connection.Connection) (*HeartbeatAck, error) {
	now := h.now()
	conn.Touch(now)
	h.Presence.Heartbeat(ctx, conn.UserID())

	if h.Routes != nil {
		if err := h.Routes.Refresh(ctx, conn.UserID()); err != nil {
			h.logger.Warn("Failed to refresh session route", "user_id", conn.UserID(), "error", err)
		}
	}
	return &HeartbeatAck{ServerTime: now.UnixMilli()}, nil
}

// handleActivity 活动上报
func (h *Handler) handleActivity(ctx context.Context, conn *connection.Connection, raw json.RawMessage) error {
	var req proto.ActivityRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	h.Presence.Activity(ctx, conn.UserID(), req.Label)
	return nil
}

// handlePresenceQuery 查询在线状态快照，用于在实时更新到达前初始化视图
func (h *Handler) handlePresenceQuery(ctx context.Context, raw json.RawMessage) (*model.PresenceRecord, error) {
	var req proto.PresenceQuery
	if err := decode(raw, &req); err != nil {
		return nil, err
	}
	if req.UserID <= 0 {
		return nil, sharedErrors.ErrInvalidParams
	}
	rec, err := h.Presence.Query(ctx, req.UserID)
	if err != nil {
		return nil, sharedErrors.ErrServerError.Wrap(err)
	}
	return rec, nil
}
