package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/incyashraj/ParkShare-sub000/shared/codec"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

// CreateConversationRequest 创建会话请求
type CreateConversationRequest struct {
	Participants   []int64         `json:"participants" binding:"required,min=1"`               // 其他参与者（可包含自己）
	Subject        string          `json:"subject" binding:"max=200" example:"Spot on Baker St"` // 主题
	InitialMessage *InitialMessage `json:"initialMessage,omitempty"`                             // 首条消息
}

// InitialMessage 创建会话时附带的首条消息
type InitialMessage struct {
	ClientMsgID string             `json:"clientMsgId"`
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

// CreateConversationResponse 创建会话响应
type CreateConversationResponse struct {
	Conversation *model.ConversationView `json:"conversation"`
	Message      *model.Message          `json:"message,omitempty"`
}

// FlagRequest 设置标记；不传 value 时取反
type FlagRequest struct {
	Value *bool `json:"value,omitempty" example:"true"`
}

// ListFilter 会话列表过滤条件
type ListFilter struct {
	Archived bool
	Query    string
}

// ConversationService 会话服务
type ConversationService struct {
	conversations ConversationStore
	users         UserStore
	blocks        BlockStore
	members       MembershipCache
	messages      *MessageService
	ids           IDGenerator
	logger        *slog.Logger
	now           func() time.Time
}

// NewConversationService 创建会话服务
func NewConversationService(conversations ConversationStore, users UserStore, blocks BlockStore, members MembershipCache, messages *MessageService, ids IDGenerator) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		users:         users,
		blocks:        blocks,
		members:       members,
		messages:      messages,
		ids:           ids,
		logger:        slog.Default().With("service", "conversation"),
		now:           time.Now,
	}
}

// Create 创建会话；任意一方屏蔽了另一方时返回带方向的 Blocked 错误
func (s *ConversationService) Create(ctx context.Context, userId int64, req *CreateConversationRequest) (*CreateConversationResponse, error) {
	participants := []int64{userId}
	for _, p := range req.Participants {
		if p <= 0 {
			return nil, sharedErrors.ErrInvalidParams
		}
		if !slices.Contains(participants, p) {
			participants = append(participants, p)
		}
	}
	if len(participants) < 2 {
		return nil, sharedErrors.ErrInvalidParams
	}
	if m := req.InitialMessage; m != nil && strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
		return nil, sharedErrors.ErrInvalidParams
	}

	if err := checkBlocked(ctx, s.blocks, userId, participants[1:]); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	conv := &model.Conversation{
		ID:           s.ids.Generate().Int64(),
		Participants: participants,
		Subject:      strings.TrimSpace(req.Subject),
		Flags:        map[int64]model.UserFlags{},
		Unread:       map[int64]int{},
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}

	resp := &CreateConversationResponse{}
	if req.InitialMessage != nil {
		msg, err := s.messages.Send(ctx, userId, &SendMessageRequest{
			ConversationID: conv.ID,
			ClientMsgID:    req.InitialMessage.ClientMsgID,
			Content:        req.InitialMessage.Content,
			Attachments:    req.InitialMessage.Attachments,
		})
		if err != nil {
			// 首条消息失败时不留下空会话
			if rmErr := s.conversations.Remove(context.WithoutCancel(ctx), conv.ID); rmErr != nil {
				s.logger.Error("Failed to remove conversation after initial message failed", "conversationId", conv.ID, "error", rmErr)
			}
			return nil, err
		}
		resp.Message = msg
		if fresh, err := s.conversations.Get(ctx, conv.ID); err == nil {
			conv = fresh
		}
	}

	s.cacheMembers(ctx, conv)

	s.logger.Info("Conversation created", "conversationId", conv.ID, "creator", userId, "participants", participants)

	resp.Conversation = conv.ViewFor(userId)
	return resp, nil
}

// Get 获取当前用户视角的会话
func (s *ConversationService) Get(ctx context.Context, userId, conversationId int64) (*model.ConversationView, error) {
	conv, err := s.load(ctx, userId, conversationId)
	if err != nil {
		return nil, err
	}
	if conv.DeletedFor(userId) {
		return nil, sharedErrors.ErrConversationNotFound
	}

	// 打开会话前客户端会先拉取详情，顺带刷新参与者缓存（缓存有 TTL）
	s.cacheMembers(ctx, conv)

	view := conv.ViewFor(userId)
	if names, err := s.users.GetDisplayNames(ctx, conv.Participants); err == nil {
		view.ParticipantNames = names
	}
	return view, nil
}

func (s *ConversationService) cacheMembers(ctx context.Context, conv *model.Conversation) {
	if s.members == nil {
		return
	}
	if err := s.members.SetMembers(ctx, conv.ID, conv.Participants); err != nil {
		s.logger.Warn("Failed to cache conversation members", "conversationId", conv.ID, "error", err)
	}
}

// ToggleFlag 修改当前用户的 star/mute/archive 标记，只影响该用户
func (s *ConversationService) ToggleFlag(ctx context.Context, userId, conversationId int64, flagName string, value *bool) (*model.ConversationView, error) {
	flag, ok := model.ParseConversationFlag(flagName)
	if !ok {
		return nil, sharedErrors.ErrInvalidFlag
	}

	conv, err := s.load(ctx, userId, conversationId)
	if err != nil {
		return nil, err
	}

	flags, err := s.conversations.SetFlag(ctx, conversationId, userId, flag, value)
	if err != nil {
		return nil, err
	}
	if conv.Flags == nil {
		conv.Flags = map[int64]model.UserFlags{}
	}
	conv.Flags[userId] = flags

	s.logger.Debug("Conversation flag updated",
		"conversationId", conversationId,
		"userId", userId,
		"flag", flag,
		"value", flags.Get(flag),
	)
	return conv.ViewFor(userId), nil
}

// List 当前用户的会话列表，按最后活跃时间倒序
// Query 匹配主题、其他参与者展示名，以及明文的最后一条消息
func (s *ConversationService) List(ctx context.Context, userId int64, filter ListFilter) ([]*model.ConversationView, error) {
	convs, err := s.conversations.ListForUser(ctx, userId, filter.Archived)
	if err != nil {
		return nil, err
	}

	var others []int64
	for _, c := range convs {
		for _, p := range c.OtherParticipants(userId) {
			if !slices.Contains(others, p) {
				others = append(others, p)
			}
		}
	}
	names, err := s.users.GetDisplayNames(ctx, others)
	if err != nil {
		s.logger.Warn("Failed to load display names", "error", err)
		names = map[int64]string{}
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	views := make([]*model.ConversationView, 0, len(convs))
	for _, c := range convs {
		if c.DeletedFor(userId) || c.FlagsFor(userId).Archived != filter.Archived {
			continue
		}
		if query != "" && !matches(c, userId, names, query) {
			continue
		}

		view := c.ViewFor(userId)
		view.ParticipantNames = make(map[int64]string, len(c.Participants))
		for _, p := range c.OtherParticipants(userId) {
			if name, ok := names[p]; ok {
				view.ParticipantNames[p] = name
			}
		}
		views = append(views, view)
	}

	slices.SortStableFunc(views, func(a, b *model.ConversationView) int {
		return b.LastActivity.Compare(a.LastActivity)
	})
	return views, nil
}

// Delete 从当前用户的列表中移除会话，其他参与者不受影响
func (s *ConversationService) Delete(ctx context.Context, userId, conversationId int64) error {
	if _, err := s.load(ctx, userId, conversationId); err != nil {
		return err
	}
	if err := s.conversations.MarkDeleted(ctx, conversationId, userId); err != nil {
		return err
	}
	s.logger.Info("Conversation removed from list", "conversationId", conversationId, "userId", userId)
	return nil
}

// MarkRead 打开会话时批量标记已读
func (s *ConversationService) MarkRead(ctx context.Context, userId, conversationId int64) (int, error) {
	return s.messages.MarkConversationRead(ctx, userId, conversationId)
}

// load 获取会话并校验参与者身份
func (s *ConversationService) load(ctx context.Context, userId, conversationId int64) (*model.Conversation, error) {
	conv, err := s.conversations.Get(ctx, conversationId)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userId) {
		return nil, sharedErrors.ErrNotParticipant
	}
	return conv, nil
}

// matches 搜索匹配；加密的最后一条消息服务端不可读，不参与匹配
func matches(c *model.Conversation, userId int64, names map[int64]string, query string) bool {
	if strings.Contains(strings.ToLower(c.Subject), query) {
		return true
	}
	for _, p := range c.OtherParticipants(userId) {
		if strings.Contains(strings.ToLower(names[p]), query) {
			return true
		}
	}
	if c.LastMessage != nil {
		if preview := codec.Preview(c.LastMessage.Preview); preview != "" {
			return strings.Contains(strings.ToLower(preview), query)
		}
	}
	return false
}
