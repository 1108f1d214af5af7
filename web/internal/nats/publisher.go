package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	sharedNats "github.com/incyashraj/ParkShare-sub000/shared/nats"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// Conn 发布所需的最小连接接口（*nats.Conn 满足）
type Conn interface {
	Publish(subject string, data []byte) error
}

// EventPublisher 下行事件发布器
// 所有 Access 节点订阅同一广播 Subject，按房间/用户在节点内扇出
type EventPublisher struct {
	nc     Conn
	logger *slog.Logger
}

// NewEventPublisher 创建下行事件发布器
func NewEventPublisher(nc Conn) *EventPublisher {
	return &EventPublisher{
		nc:     nc,
		logger: slog.Default().With("component", "publisher"),
	}
}

// PublishDownstream 广播下行事件
func (p *EventPublisher) PublishDownstream(_ context.Context, message *proto.DownstreamMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		p.logger.Error("Failed to marshal downstream message", "error", err)
		return err
	}

	if err := p.nc.Publish(sharedNats.SubjectBroadcast, data); err != nil {
		p.logger.Error("Failed to publish downstream message", "error", err)
		return err
	}

	event := ""
	if message.Event != nil {
		event = message.Event.Event
	}
	p.logger.Debug("Published downstream event",
		"event", event,
		"conversationId", message.ConversationID,
		"users", len(message.Users),
	)
	return nil
}
