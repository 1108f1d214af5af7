package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/incyashraj/ParkShare-sub000/access/internal/connection"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/jwt"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// cleanupTimeout 断线清理使用独立超时，不受服务停机取消影响
const cleanupTimeout = 5 * time.Second

// Authenticate 处理首帧，必须是认证请求
// 成功返回已登记的连接，此后所有下行帧经由该连接写入同一条流；
// 失败时已向流写入失败的 AuthAck，调用方应关闭会话
func (h *Handler) Authenticate(ctx context.Context, session connection.SessionCloser, stream io.ReadWriter) (*connection.Connection, error) {
	frameType, body, err := proto.ReadFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth frame: %w", err)
	}
	if frameType != proto.FrameTypeAuth {
		h.writeAuthAck(stream, &proto.AuthAck{Code: sharedErrors.CodeTokenInvalid, Message: "auth required"})
		return nil, errors.New("first frame is not auth request")
	}

	var req proto.AuthRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Token == "" {
		h.writeAuthAck(stream, &proto.AuthAck{Code: sharedErrors.CodeInvalidParams, Message: "malformed auth request"})
		return nil, errors.New("malformed auth request")
	}

	claims, err := h.Validator.Verify(req.Token)
	if err != nil {
		appErr := sharedErrors.ErrTokenInvalid
		if errors.Is(err, jwt.ErrTokenExpired) {
			appErr = sharedErrors.ErrTokenExpired
		}
		h.writeAuthAck(stream, &proto.AuthAck{Code: appErr.Code, Message: appErr.Message})
		return nil, fmt.Errorf("token rejected: %w", err)
	}

	// 令牌绑定了设备时，连接必须来自同一设备
	if claims.DeviceID != "" && req.DeviceID != "" && claims.DeviceID != req.DeviceID {
		h.writeAuthAck(stream, &proto.AuthAck{Code: sharedErrors.CodeTokenInvalid, Message: "device mismatch"})
		return nil, errors.New("device mismatch")
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = claims.DeviceID
	}
	platform := string(jwt.ParsePlatform(req.Platform))
	if req.Platform == "" {
		platform = string(claims.Platform)
	}

	conn := connection.New(session, stream, connection.Identity{
		UserID:   claims.UserID,
		DeviceID: deviceID,
		Platform: platform,
	}, h.logger)

	// AuthAck 必须是连接上的第一帧
	ack, _ := json.Marshal(&proto.AuthAck{Code: sharedErrors.CodeSuccess, Message: "success", UserID: claims.UserID, ConnID: conn.ID()})
	if err := conn.Send(proto.EncodeFrame(proto.FrameTypeAuthAck, ack)); err != nil {
		conn.Close()
		return nil, err
	}
	if err := h.ConnMgr.Add(conn); err != nil {
		h.logger.Warn("Rejecting connection", "user_id", claims.UserID, "error", err)
		conn.Close()
		return nil, err
	}

	h.onConnect(ctx, conn)
	h.logger.Info("User authenticated", "conn_id", conn.ID(), "user_id", conn.UserID(), "platform", platform)
	return conn, nil
}

func (h *Handler) writeAuthAck(w io.Writer, ack *proto.AuthAck) {
	body, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := proto.WriteFrame(w, proto.FrameTypeAuthAck, body); err != nil {
		h.logger.Debug("Failed to write auth ack", "error", err)
	}
}

// onConnect 登记位置、上线、通知 web
func (h *Handler) onConnect(ctx context.Context, conn *connection.Connection) {
	if h.Routes != nil {
		route := &model.SessionRoute{
			UserID:      conn.UserID(),
			NodeID:      h.NodeID,
			ConnID:      conn.ID(),
			DeviceID:    conn.DeviceID(),
			Platform:    conn.Platform(),
			ConnectedAt: conn.CreateTime(),
		}
		if err := h.Routes.Register(ctx, route); err != nil {
			h.logger.Error("Failed to register session route", "user_id", conn.UserID(), "error", err)
		}
	}

	h.Presence.Connect(ctx, conn.UserID())

	h.publishUpstream(ctx, &proto.UpstreamMessage{
		ConnID: conn.ID(),
		UserID: conn.UserID(),
		UserOnline: &proto.UserOnline{
			UserID:   conn.UserID(),
			ConnID:   conn.ID(),
			DeviceID: conn.DeviceID(),
			Platform: conn.Platform(),
		},
	})
}

// OnDisconnect 连接断开后的清理，可重复调用
func (h *Handler) OnDisconnect(ctx context.Context, conn *connection.Connection) {
	if !h.ConnMgr.Remove(conn.ID()) {
		return
	}
	conn.Close()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	uid := conn.UserID()
	left := h.Hub.LeaveAll(conn)
	if h.ConnMgr.SessionCount(uid) == 0 {
		h.Typing.ClearUser(ctx, uid)
	}

	if h.Routes != nil {
		if err := h.Routes.Unregister(ctx, uid, conn.ID()); err != nil {
			h.logger.Error("Failed to unregister session route", "user_id", uid, "error", err)
		}
	}
	h.Presence.Disconnect(ctx, uid)

	h.publishUpstream(ctx, &proto.UpstreamMessage{
		ConnID:      conn.ID(),
		UserID:      uid,
		UserOffline: &proto.UserOffline{UserID: uid, ConnID: conn.ID()},
	})

	h.logger.Info("Connection closed", "conn_id", conn.ID(), "user_id", uid, "rooms_left", len(left))
}

func (h *Handler) publishUpstream(ctx context.Context, msg *proto.UpstreamMessage) {
	if h.Upstream == nil {
		return
	}
	msg.NodeID = h.NodeID
	if err := h.Upstream.PublishUpstream(ctx, msg); err != nil {
		h.logger.Error("Failed to publish upstream message", "user_id", msg.UserID, "error", err)
	}
}
