package handler

import (
	"encoding/json"
	"errors"

	"github.com/incyashraj/ParkShare-sub000/access/internal/connection"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// HandleDownstream 将下行事件扇出到本节点的连接
//
//	PresenceOf != 0     : 打开了与该用户共同会话的其他连接
//	ConversationID != 0 : 该会话房间内的连接
//	Users               : 这些用户的全部连接（无论是否在房间内）
func (h *Handler) HandleDownstream(msg *proto.DownstreamMessage) int {
	if msg.Event == nil {
		return 0
	}

	targets := make(map[int64]*connection.Connection)
	add := func(conns []*connection.Connection) {
		for _, c := range conns {
			if c.ID() != msg.ExcludeConnID {
				targets[c.ID()] = c
			}
		}
	}

	switch {
	case msg.PresenceOf != 0:
		add(h.Hub.PresenceWatchers(msg.PresenceOf))
	case msg.ConversationID != 0:
		add(h.Hub.Members(msg.ConversationID))
	}
	for _, uid := range msg.Users {
		add(h.ConnMgr.Sessions(uid))
	}
	if len(targets) == 0 {
		return 0
	}

	body, err := json.Marshal(msg.Event)
	if err != nil {
		h.logger.Error("Failed to marshal downstream event", "event", msg.Event.Event, "error", err)
		return 0
	}
	frame := proto.EncodeFrame(proto.FrameTypeEvent, body)

	sent := 0
	for _, c := range targets {
		if err := c.Send(frame); err != nil {
			if errors.Is(err, connection.ErrSendBufferFull) {
				h.logger.Warn("Dropping event for slow connection", "conn_id", c.ID(), "event", msg.Event.Event)
			}
			continue
		}
		sent++
	}
	return sent
}
