package handler

import (
	"context"
	"encoding/json"

	"github.com/incyashraj/ParkShare-sub000/access/internal/connection"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// handleJoin 打开会话视图时加入房间
func (h *Handler) handleJoin(ctx context.Context, conn *connection.Connection, raw json.RawMessage) error {
	var req proto.RoomRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	if req.ConversationID <= 0 {
		return sharedErrors.ErrInvalidParams
	}
	return h.Hub.Join(ctx, conn, req.ConversationID)
}

// handleLeave 离开会话视图；进行中的发送不受影响
func (h *Handler) handleLeave(ctx context.Context, conn *connection.Connection, raw json.RawMessage) error {
	var req proto.RoomRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	if !h.Hub.Leave(conn, req.ConversationID) {
		return nil
	}
	h.Typing.Stop(ctx, req.ConversationID, conn.UserID())
	return nil
}

// handleTyping 输入状态，只允许在已加入的房间内上报
func (h *Handler) handleTyping(ctx context.Context, conn *connection.Connection, raw json.RawMessage, start bool) error {
	var req proto.TypingRequest
	if err := decode(raw, &req); err != nil {
		return err
	}
	if !h.Hub.InRoom(conn, req.ConversationID) {
		return sharedErrors.ErrNotParticipant
	}

	if start {
		if err := h.Typing.Start(ctx, req.ConversationID, conn.UserID()); err != nil {
			return sharedErrors.ErrServerError.Wrap(err)
		}
		return nil
	}
	h.Typing.Stop(ctx, req.ConversationID, conn.UserID())
	return nil
}
