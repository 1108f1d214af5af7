package service

import (
	"cmp"
	"context"
	"slices"
	"sync"

	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// ============== 内存实现 ==============

type memConversations struct {
	mu    sync.Mutex
	convs map[int64]*model.Conversation

	// recordErr 不为空时 RecordMessage 返回该错误
	recordErr error
}

func newMemConversations() *memConversations {
	return &memConversations{convs: map[int64]*model.Conversation{}}
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	cp.Flags = make(map[int64]model.UserFlags, len(c.Flags))
	for k, v := range c.Flags {
		cp.Flags[k] = v
	}
	cp.Unread = make(map[int64]int, len(c.Unread))
	for k, v := range c.Unread {
		cp.Unread[k] = v
	}
	cp.Deleted = make(map[int64]bool, len(c.Deleted))
	for k, v := range c.Deleted {
		cp.Deleted[k] = v
	}
	if c.LastMessage != nil {
		ref := *c.LastMessage
		cp.LastMessage = &ref
	}
	return &cp
}

func (m *memConversations) Create(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[conv.ID] = cloneConversation(conv)
	return nil
}

func (m *memConversations) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, id)
	return nil
}

func (m *memConversations) Get(_ context.Context, id int64) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, sharedErrors.ErrConversationNotFound
	}
	return cloneConversation(c), nil
}

func (m *memConversations) ListForUser(_ context.Context, userId int64, archived bool) ([]*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Conversation
	for _, c := range m.convs {
		if !c.HasParticipant(userId) || c.DeletedFor(userId) || c.FlagsFor(userId).Archived != archived {
			continue
		}
		out = append(out, cloneConversation(c))
	}
	return out, nil
}

func (m *memConversations) SetFlag(_ context.Context, conversationId, userId int64, flag model.ConversationFlag, value *bool) (model.UserFlags, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationId]
	if !ok || !c.HasParticipant(userId) {
		return model.UserFlags{}, sharedErrors.ErrConversationNotFound
	}
	flags := c.Flags[userId]
	next := !flags.Get(flag)
	if value != nil {
		next = *value
	}
	flags = flags.With(flag, next)
	c.Flags[userId] = flags
	return flags, nil
}

func (m *memConversations) MarkDeleted(_ context.Context, conversationId, userId int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationId]
	if !ok {
		return sharedErrors.ErrConversationNotFound
	}
	c.Deleted[userId] = true
	c.Unread[userId] = 0
	return nil
}

func (m *memConversations) RecordMessage(_ context.Context, conversationId int64, ref *model.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	c, ok := m.convs[conversationId]
	if !ok {
		return sharedErrors.ErrConversationNotFound
	}
	cp := *ref
	c.LastMessage = &cp
	if ref.Timestamp.After(c.LastActivity) {
		c.LastActivity = ref.Timestamp
	}
	for _, p := range c.Participants {
		if p != ref.SenderID {
			c.Unread[p]++
		}
		delete(c.Deleted, p)
	}
	return nil
}

func (m *memConversations) ResetUnread(_ context.Context, conversationId, userId int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[conversationId]; ok {
		c.Unread[userId] = 0
	}
	return nil
}

type memMessages struct {
	mu   sync.Mutex
	msgs map[int64]*model.Message

	insertErr error
}

func newMemMessages() *memMessages {
	return &memMessages{msgs: map[int64]*model.Message{}}
}

func (m *memMessages) Insert(_ context.Context, msg *model.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return false, m.insertErr
	}
	for _, existing := range m.msgs {
		if existing.SenderID == msg.SenderID && existing.ClientMsgID == msg.ClientMsgID {
			*msg = *existing
			return false, nil
		}
	}
	cp := *msg
	m.msgs[msg.ID] = &cp
	return true, nil
}

func (m *memMessages) Get(_ context.Context, id int64) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return nil, sharedErrors.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *memMessages) ListByConversation(_ context.Context, conversationId, beforeId int64, limit int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, msg := range m.msgs {
		if msg.ConversationID != conversationId || msg.Deleted || (beforeId != 0 && msg.ID >= beforeId) {
			continue
		}
		cp := *msg
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *model.Message) int { return cmp.Compare(a.ID, b.ID) })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) CompareAndSetStatus(_ context.Context, id int64, from, to model.MessageStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok || msg.Status != from {
		return false, nil
	}
	msg.Status = to
	return true, nil
}

func (m *memMessages) MarkRead(_ context.Context, conversationId, readerId int64) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var updated []*model.Message
	for _, msg := range m.msgs {
		if msg.ConversationID != conversationId || msg.SenderID == readerId || msg.Deleted || msg.IsReadBy(readerId) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, readerId)
		msg.Status = model.StatusRead
		cp := *msg
		updated = append(updated, &cp)
	}
	return updated, nil
}

func (m *memMessages) SoftDelete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.msgs[id]
	if !ok {
		return sharedErrors.ErrMessageNotFound
	}
	msg.Deleted = true
	return nil
}

type memBlocks struct {
	mu     sync.Mutex
	blocks map[[2]int64]bool
}

func newMemBlocks() *memBlocks {
	return &memBlocks{blocks: map[[2]int64]bool{}}
}

func (m *memBlocks) Block(_ context.Context, blockerId, blockedId int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[[2]int64{blockerId, blockedId}] = true
	return nil
}

func (m *memBlocks) Unblock(_ context.Context, blockerId, blockedId int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, [2]int64{blockerId, blockedId})
	return nil
}

func (m *memBlocks) Relation(_ context.Context, me, other int64) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocks[[2]int64{me, other}], m.blocks[[2]int64{other, me}], nil
}

type memUsers struct {
	mu    sync.Mutex
	names map[int64]string
	keys  map[int64]string
}

func newMemUsers() *memUsers {
	return &memUsers{names: map[int64]string{}, keys: map[int64]string{}}
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.names[id]
	if !ok {
		return nil, sharedErrors.ErrUserNotFound
	}
	return &model.User{UserID: id, DisplayName: name, PublicKey: m.keys[id]}, nil
}

func (m *memUsers) UpsertDisplayName(_ context.Context, id int64, displayName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[id] = displayName
	return nil
}

func (m *memUsers) UpsertPublicKey(_ context.Context, id int64, armored string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[id] = armored
	return nil
}

func (m *memUsers) GetPublicKey(_ context.Context, id int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return "", sharedErrors.ErrPublicKeyNotFound
	}
	return key, nil
}

func (m *memUsers) GetDisplayNames(_ context.Context, ids []int64) (map[int64]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]string{}
	for _, id := range ids {
		if name, ok := m.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

type memMembers struct {
	mu      sync.Mutex
	members map[int64][]int64
}

func (m *memMembers) SetMembers(_ context.Context, conversationId int64, participants []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members == nil {
		m.members = map[int64][]int64{}
	}
	m.members[conversationId] = slices.Clone(participants)
	return nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []*proto.DownstreamMessage
}

func (p *recordingPublisher) PublishDownstream(_ context.Context, message *proto.DownstreamMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return nil
}

func (p *recordingPublisher) events(name string) []*proto.DownstreamMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*proto.DownstreamMessage
	for _, m := range p.messages {
		if m.Event != nil && m.Event.Event == name {
			out = append(out, m)
		}
	}
	return out
}
