package handler

import (
	"context"
	"encoding/json"

	"github.com/incyashraj/ParkShare-sub000/access/internal/connection"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// handleStatusUpdate 接收方回执（delivered / read），转发给 web 落库并广播
func (h *Handler) handleStatusUpdate(ctx context.Context, conn *connection.Connection, raw json.RawMessage) error {
	var update proto.StatusUpdate
	if err := decode(raw, &update); err != nil {
		return err
	}
	if update.MessageID <= 0 || update.ConversationID <= 0 {
		return sharedErrors.ErrInvalidParams
	}
	// 只有接收方回执可以从客户端上报，sent / failed 由服务端决定
	if update.Status != model.StatusDelivered && update.Status != model.StatusRead {
		return sharedErrors.ErrInvalidStatus
	}
	update.UserID = conn.UserID()

	if h.Upstream == nil {
		return sharedErrors.ErrNetworkFailure
	}
	msg := &proto.UpstreamMessage{
		NodeID:       h.NodeID,
		ConnID:       conn.ID(),
		UserID:       conn.UserID(),
		StatusUpdate: &update,
	}
	if err := h.Upstream.PublishUpstream(ctx, msg); err != nil {
		return sharedErrors.ErrNetworkFailure.Wrap(err)
	}
	return nil
}
