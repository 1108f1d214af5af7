package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/incyashraj/ParkShare-sub000/shared/delivery"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200

	// statusRetries 并发状态更新时 CAS 的最大重试次数
	statusRetries = 3
)

// SendMessageRequest 发送消息请求
// SenderID 仅为兼容旧客户端保留，服务端总以令牌中的用户为准
type SendMessageRequest struct {
	ConversationID int64              `json:"conversationId" binding:"required" example:"1"`                   // 会话ID
	ClientMsgID    string             `json:"clientMsgId" example:"0b6c2d0e-3c55-4c0a-8a76-6f1f0b9a1d2e"`    // 客户端幂等令牌
	Content        string             `json:"content" example:"-----BEGIN PARKSHARE SEALED MESSAGE-----..."` // 加密信封或明文
	SenderID       int64              `json:"senderId,omitempty" example:"1"`                                // 忽略
	Attachments    []model.Attachment `json:"attachments,omitempty"`                                         // 附件描述
}

// MessageService 消息服务
type MessageService struct {
	conversations ConversationStore
	messages      MessageStore
	blocks        BlockStore
	ids           IDGenerator
	events        *notifier
	logger        *slog.Logger
	now           func() time.Time
}

// NewMessageService 创建消息服务
func NewMessageService(conversations ConversationStore, messages MessageStore, blocks BlockStore, ids IDGenerator, publisher EventPublisher) *MessageService {
	logger := slog.Default().With("service", "message")
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		blocks:        blocks,
		ids:           ids,
		events:        &notifier{publisher: publisher, logger: logger},
		logger:        logger,
		now:           time.Now,
	}
}

// Send 发送消息
// 同一发送者重复提交相同 clientMsgId 时返回已存在的消息，不重复推送；
// 已存在的消息若尚未记到会话上则补记并推送
func (s *MessageService) Send(ctx context.Context, senderId int64, req *SendMessageRequest) (*model.Message, error) {
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, sharedErrors.ErrInvalidParams
	}

	conv, err := s.conversations.Get(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderId) {
		return nil, sharedErrors.ErrNotParticipant
	}
	if err := checkBlocked(ctx, s.blocks, senderId, conv.OtherParticipants(senderId)); err != nil {
		return nil, err
	}

	clientMsgId := req.ClientMsgID
	if clientMsgId == "" {
		clientMsgId = uuid.NewString()
	}

	msg := &model.Message{
		ID:             s.ids.Generate().Int64(),
		ClientMsgID:    clientMsgId,
		ConversationID: conv.ID,
		SenderID:       senderId,
		Content:        req.Content,
		Attachments:    req.Attachments,
		Timestamp:      s.now().UTC(),
		Status:         model.StatusSent,
	}

	inserted, err := s.messages.Insert(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// 上次提交写入了消息但没记到会话上（RecordMessage 失败），重发时补记并推送
		if conv.LastMessage != nil && !conv.LastMessage.Timestamp.Before(msg.Timestamp) {
			s.logger.Debug("Duplicate send collapsed", "clientMsgId", clientMsgId, "messageId", msg.ID)
			return msg, nil
		}
		s.logger.Warn("Repairing conversation for previously stored message", "clientMsgId", clientMsgId, "messageId", msg.ID)
	}

	if err := s.record(ctx, conv, msg); err != nil {
		return nil, err
	}

	s.logger.Info("Message sent",
		"messageId", msg.ID,
		"conversationId", conv.ID,
		"senderId", senderId,
		"attachments", len(msg.Attachments),
	)
	return msg, nil
}

// record 更新会话最后消息与未读数，然后推送 new_message
func (s *MessageService) record(ctx context.Context, conv *model.Conversation, msg *model.Message) error {
	ref := &model.MessageRef{ID: msg.ID, SenderID: msg.SenderID, Preview: msg.Content, Timestamp: msg.Timestamp}
	if err := s.conversations.RecordMessage(ctx, conv.ID, ref); err != nil {
		return err
	}

	// 参与者即使不在房间内也要收到，用于刷新会话列表与未读数
	s.events.notify(ctx, conv.ID, conv.Participants, proto.EventNewMessage, msg)
	return nil
}

// List 分页获取会话消息
func (s *MessageService) List(ctx context.Context, userId, conversationId, beforeId int64, limit int) ([]*model.Message, error) {
	conv, err := s.conversations.Get(ctx, conversationId)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userId) {
		return nil, sharedErrors.ErrNotParticipant
	}

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.messages.ListByConversation(ctx, conversationId, beforeId, limit)
}

// ApplyStatus 处理接收方上报的状态（delivered / read）
func (s *MessageService) ApplyStatus(ctx context.Context, userId int64, update *proto.StatusUpdate) error {
	switch update.Status {
	case model.StatusDelivered:
	case model.StatusRead:
		_, err := s.MarkConversationRead(ctx, userId, update.ConversationID)
		return err
	default:
		return sharedErrors.ErrInvalidStatus
	}

	msg, err := s.messages.Get(ctx, update.MessageID)
	if err != nil {
		return err
	}
	if msg.SenderID == userId {
		return sharedErrors.ErrInvalidStatus
	}
	conv, err := s.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userId) {
		return sharedErrors.ErrNotParticipant
	}

	for attempt := 0; attempt < statusRetries; attempt++ {
		next, changed := delivery.Advance(msg.Status, update.Status)
		if !changed {
			return nil
		}
		ok, err := s.messages.CompareAndSetStatus(ctx, msg.ID, msg.Status, next)
		if err != nil {
			return err
		}
		if ok {
			s.events.notify(ctx, msg.ConversationID, []int64{msg.SenderID}, proto.EventMessageStatus, &proto.StatusUpdate{
				MessageID:      msg.ID,
				ConversationID: msg.ConversationID,
				ClientMsgID:    msg.ClientMsgID,
				Status:         next,
				UserID:         userId,
			})
			return nil
		}
		if msg, err = s.messages.Get(ctx, msg.ID); err != nil {
			return err
		}
	}
	return nil
}

// MarkConversationRead 批量标记已读，并通知每条消息的发送者
func (s *MessageService) MarkConversationRead(ctx context.Context, userId, conversationId int64) (int, error) {
	conv, err := s.conversations.Get(ctx, conversationId)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(userId) {
		return 0, sharedErrors.ErrNotParticipant
	}

	updated, err := s.messages.MarkRead(ctx, conversationId, userId)
	if err != nil {
		return 0, err
	}
	if err := s.conversations.ResetUnread(ctx, conversationId, userId); err != nil {
		return 0, err
	}

	for _, msg := range updated {
		s.events.notify(ctx, conversationId, []int64{msg.SenderID}, proto.EventMessageStatus, &proto.StatusUpdate{
			MessageID:      msg.ID,
			ConversationID: conversationId,
			ClientMsgID:    msg.ClientMsgID,
			Status:         model.StatusRead,
			UserID:         userId,
		})
	}

	if len(updated) > 0 {
		s.logger.Debug("Conversation read", "conversationId", conversationId, "userId", userId, "messages", len(updated))
	}
	return len(updated), nil
}

// Delete 删除消息（仅发送者，软删除）
func (s *MessageService) Delete(ctx context.Context, userId, messageId int64) error {
	msg, err := s.messages.Get(ctx, messageId)
	if err != nil {
		return err
	}
	if msg.Deleted {
		return sharedErrors.ErrMessageNotFound
	}
	if msg.SenderID != userId {
		return sharedErrors.ErrNotMessageSender
	}

	if err := s.messages.SoftDelete(ctx, messageId); err != nil {
		return err
	}

	var participants []int64
	if conv, err := s.conversations.Get(ctx, msg.ConversationID); err == nil {
		participants = conv.Participants
	}
	s.events.notify(ctx, msg.ConversationID, participants, proto.EventMessageDeleted, &proto.MessageDeleted{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
	})
	return nil
}

// checkBlocked 检查 actor 与其他参与者之间的屏蔽关系，区分方向
func checkBlocked(ctx context.Context, blocks BlockStore, actorId int64, others []int64) error {
	for _, other := range others {
		iBlocked, theyBlocked, err := blocks.Relation(ctx, actorId, other)
		if err != nil {
			return err
		}
		if iBlocked {
			return sharedErrors.ErrBlockedByMe
		}
		if theyBlocked {
			return sharedErrors.ErrBlockedByThem
		}
	}
	return nil
}
