package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/incyashraj/ParkShare-sub000/access/internal/connection"
	"github.com/incyashraj/ParkShare-sub000/access/internal/presence"
	"github.com/incyashraj/ParkShare-sub000/access/internal/room"
	"github.com/incyashraj/ParkShare-sub000/access/internal/typing"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/jwt"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
	sharedRedis "github.com/incyashraj/ParkShare-sub000/shared/redis"
	"github.com/incyashraj/ParkShare-sub000/shared/workerpool"
)

// TokenValidator 校验访问令牌
type TokenValidator interface {
	Verify(token string) (*jwt.Claims, error)
}

// UpstreamPublisher 上行消息发布
type UpstreamPublisher interface {
	PublishUpstream(ctx context.Context, msg *proto.UpstreamMessage) error
}

// Deps Handler 依赖
type Deps struct {
	NodeID    string
	ConnMgr   *connection.Manager
	Hub       *room.Hub
	Presence  *presence.Tracker
	Typing    *typing.Registry
	Pool      *workerpool.Pool
	Validator TokenValidator
	Upstream  UpstreamPublisher
	Routes    sharedRedis.RouteStore
}

type Handler struct {
	Deps
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Deps:   deps,
		logger: logger.With("component", "handler"),
		now:    time.Now,
	}
}

// HandleStream 读取已认证连接的请求帧（阻塞直到流关闭）
// 请求按连接 ID 提交到 Worker Pool，同一连接的请求按顺序处理
func (h *Handler) HandleStream(ctx context.Context, conn *connection.Connection, stream io.Reader) {
	for {
		frameType, body, err := proto.ReadFrame(stream)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("Stream read ended", "conn_id", conn.ID(), "error", err)
			}
			return
		}

		conn.Touch(h.now())

		if frameType != proto.FrameTypeRequest {
			h.logger.Warn("Unexpected frame type", "conn_id", conn.ID(), "frame_type", frameType)
			continue
		}

		var req proto.ClientRequest
		if err := json.Unmarshal(body, &req); err != nil {
			h.respond(conn, "", sharedErrors.ErrInvalidParams, nil)
			continue
		}

		if !h.Pool.Submit(ctx, conn.ID(), func() { h.dispatch(ctx, conn, &req) }) {
			h.logger.Warn("Worker pool is shutting down, request dropped", "conn_id", conn.ID())
			return
		}
	}
}

// dispatch 根据事件名分发
func (h *Handler) dispatch(ctx context.Context, conn *connection.Connection, req *proto.ClientRequest) {
	var (
		data any
		err  error
	)

	switch req.Event {
	case proto.EventJoinRoom:
		err = h.handleJoin(ctx, conn, req.Data)
	case proto.EventLeaveRoom:
		err = h.handleLeave(ctx, conn, req.Data)
	case proto.EventTypingStart:
		err = h.handleTyping(ctx, conn, req.Data, true)
	case proto.EventTypingStop:
		err = h.handleTyping(ctx, conn, req.Data, false)
	case proto.EventMessageStatus:
		err = h.handleStatusUpdate(ctx, conn, req.Data)
	case proto.EventHeartbeat:
		data, err = h.handleHeartbeat(ctx, conn)
	case proto.EventActivity:
		err = h.handleActivity(ctx, conn, req.Data)
	case proto.EventPresenceQuery:
		data, err = h.handlePresenceQuery(ctx, req.Data)
	case proto.EventAuthenticate:
		// 连接已在首帧完成认证
		data = map[string]int64{"userId": conn.UserID()}
	default:
		h.logger.Warn("Unknown event", "conn_id", conn.ID(), "event", req.Event)
		err = sharedErrors.ErrInvalidParams
	}

	h.respond(conn, req.ReqID, err, data)
}

// respond 回复请求
func (h *Handler) respond(conn *connection.Connection, reqID string, err error, data any) {
	resp := proto.ServerResponse{ReqID: reqID}
	if err != nil {
		resp.Code = sharedErrors.GetCode(err)
		resp.Message = sharedErrors.GetMessage(err)
		if resp.Code == sharedErrors.CodeServerError {
			h.logger.Error("Request failed", "conn_id", conn.ID(), "req_id", reqID, "error", err)
		}
	} else if data != nil {
		raw, mErr := json.Marshal(data)
		if mErr != nil {
			h.logger.Error("Failed to marshal response", "error", mErr)
			resp.Code = sharedErrors.CodeServerError
		} else {
			resp.Data = raw
		}
	}

	body, mErr := json.Marshal(&resp)
	if mErr != nil {
		h.logger.Error("Failed to marshal response", "error", mErr)
		return
	}
	if err := conn.Send(proto.EncodeFrame(proto.FrameTypeResponse, body)); err != nil {
		h.logger.Debug("Failed to send response", "conn_id", conn.ID(), "error", err)
	}
}

// decode 解析请求载荷
func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return sharedErrors.ErrInvalidParams
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return sharedErrors.ErrInvalidParams.Wrap(err)
	}
	return nil
}
