// Package client ParkShare 消息客户端
//
// Session 是客户端的组合根：持有 REST 客户端、实时连接、密钥与消息管线，
// 生命周期由调用方显式控制（Connect / Close），不存在全局单例。
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/incyashraj/ParkShare-sub000/client/api"
	"github.com/incyashraj/ParkShare-sub000/client/pipeline"
	"github.com/incyashraj/ParkShare-sub000/client/realtime"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/keys"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// API 会话依赖的 REST 接口，*api.Client 实现
type API interface {
	pipeline.MessageAPI
	keys.Directory
	ListConversations(ctx context.Context, opts api.ListOptions) ([]*model.ConversationView, error)
	CreateConversation(ctx context.Context, req *api.CreateConversationRequest) (*api.CreateConversationResponse, error)
	SetFlag(ctx context.Context, conversationID int64, flag model.ConversationFlag, value *bool) (*model.ConversationView, error)
	DeleteConversation(ctx context.Context, conversationID int64) error
	DeleteMessage(ctx context.Context, messageID int64) error
}

// RealtimeConn 实时连接，*realtime.Conn 实现
type RealtimeConn interface {
	Join(ctx context.Context, conversationID int64) error
	Leave(ctx context.Context, conversationID int64) error
	TypingStart(ctx context.Context, conversationID int64) error
	TypingStop(ctx context.Context, conversationID int64) error
	ReportStatus(update *proto.StatusUpdate) error
	QueryPresence(ctx context.Context, userID int64) (*model.PresenceRecord, error)
	Events() <-chan *proto.ServerEvent
	Done() <-chan struct{}
	Close() error
}

// defaultTypingTTL 收到 typing-start 后没有后续事件时自动清除的时间，略长于服务端的过期时间
const defaultTypingTTL = 8 * time.Second

// Dialer 建立实时连接
type Dialer func(ctx context.Context) (RealtimeConn, error)

// RealtimeDialer 基于 WebTransport 的默认 Dialer
func RealtimeDialer(cfg realtime.Config, logger *slog.Logger) Dialer {
	return func(ctx context.Context) (RealtimeConn, error) {
		conn, err := realtime.Dial(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Handlers 事件回调，均在事件循环 goroutine 中调用
type Handlers struct {
	OnMessage    func(entry pipeline.Entry)
	OnStatus     func(entry pipeline.Entry)
	OnDeleted    func(conversationID, messageID int64)
	OnTyping     func(indicator proto.TypingIndicator)
	OnPresence   func(record model.PresenceRecord)
	OnDisconnect func()
}

// Options 会话参数
type Options struct {
	UserID   int64
	API      API
	Keystore keys.Keystore
	Dial     Dialer
	Handlers Handlers
	Logger   *slog.Logger

	// TypingTTL 对方正在输入的指示在本地保留的最长时间，默认 8s
	TypingTTL time.Duration
}

// Session 一个已登录用户的客户端会话
type Session struct {
	userID   int64
	api      API
	keys     *keys.Manager
	pipeline *pipeline.Pipeline
	conn     RealtimeConn
	handlers Handlers
	logger   *slog.Logger

	// 本会话的加密不可用原因；非 nil 时只能浏览不能发送
	cryptoErr error

	mu       sync.RWMutex
	open     map[int64]bool
	typing   map[int64]map[int64]uint64 // 会话 -> 用户 -> 版本号，过期只清除自己登记的版本
	presence map[int64]model.PresenceRecord

	typingTTL     time.Duration
	typingSeq     uint64
	typingExpired chan typingExpiry

	closeOnce sync.Once
	closed    chan struct{}
	loopDone  chan struct{}
}

// Connect 启动会话：准备密钥并发布公钥、建立实时连接、启动事件循环
//
// 密钥库或加密原语不可用时会话仍然建立，只是禁用发送（CryptoErr 返回原因）；
// 公钥发布失败只记录告警。
func Connect(ctx context.Context, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	typingTTL := opts.TypingTTL
	if typingTTL <= 0 {
		typingTTL = defaultTypingTTL
	}

	s := &Session{
		userID:        opts.UserID,
		api:           opts.API,
		handlers:      opts.Handlers,
		logger:        logger.With("user_id", opts.UserID),
		open:          make(map[int64]bool),
		typing:        make(map[int64]map[int64]uint64),
		presence:      make(map[int64]model.PresenceRecord),
		typingTTL:     typingTTL,
		typingExpired: make(chan typingExpiry),
		closed:        make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	s.keys = keys.NewManager(opts.Keystore, opts.API, s.logger)

	kp, err := s.keys.StartSession(ctx, opts.UserID)
	switch {
	case err == nil:
	case kp != nil:
		// 公钥发布失败，本地密钥仍可用
		s.logger.Warn("Public key not published, peers may not reach this device yet", "error", err)
	case sharedErrors.Is(err, sharedErrors.ErrCryptoUnavailable), sharedErrors.Is(err, sharedErrors.ErrKeystoreUnavailable):
		s.cryptoErr = err
		s.logger.Warn("Secure messaging disabled for this session", "error", err)
	default:
		return nil, err
	}

	s.pipeline = pipeline.New(opts.UserID, kp, s.keys, opts.API, s.logger)

	conn, err := opts.Dial(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn

	go s.eventLoop()

	s.logger.Info("Session connected", "secure_messaging", s.cryptoErr == nil)
	return s, nil
}

// UserID 当前用户
func (s *Session) UserID() int64 { return s.userID }

// CryptoErr 加密不可用的原因
func (s *Session) CryptoErr() error { return s.cryptoErr }

// Pipeline 消息管线
func (s *Session) Pipeline() *pipeline.Pipeline { return s.pipeline }

// Conversations 会话列表，同时缓存成员供发送时解析公钥
func (s *Session) Conversations(ctx context.Context, opts api.ListOptions) ([]*model.ConversationView, error) {
	views, err := s.api.ListConversations(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, v := range views {
		s.pipeline.SetParticipants(v.ID, v.Participants)
	}
	return views, nil
}

// StartConversation 创建会话并发送首条消息
// 任一成员未发布公钥时不发起请求，返回 ErrRecipientNotReady
func (s *Session) StartConversation(ctx context.Context, participants []int64, subject, text string) (*model.ConversationView, error) {
	if s.cryptoErr != nil {
		return nil, sharedErrors.ErrCryptoUnavailable.Wrap(s.cryptoErr)
	}
	if !slices.Contains(participants, s.userID) {
		participants = append(slices.Clone(participants), s.userID)
	}

	content, err := s.pipeline.Seal(ctx, participants, text)
	if err != nil {
		return nil, err
	}

	resp, err := s.api.CreateConversation(ctx, &api.CreateConversationRequest{
		Participants: participants,
		Subject:      subject,
		InitialMessage: &api.InitialMessage{
			ClientMsgID: uuid.NewString(),
			Content:     content.Wire(),
		},
	})
	if err != nil {
		return nil, err
	}

	s.pipeline.SetParticipants(resp.Conversation.ID, resp.Conversation.Participants)
	if resp.Message != nil {
		s.pipeline.Ingest(resp.Message)
	}
	return resp.Conversation, nil
}

// OpenConversation 打开会话：加入房间、加载历史并标记已读、拉取对方在线状态
func (s *Session) OpenConversation(ctx context.Context, conversationID int64) (*pipeline.LoadResult, error) {
	if err := s.conn.Join(ctx, conversationID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.open[conversationID] = true
	s.mu.Unlock()

	result, err := s.pipeline.Open(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	view, err := s.api.GetConversation(ctx, conversationID)
	if err != nil {
		s.logger.Warn("Failed to load conversation", "conversation_id", conversationID, "error", err)
		return result, nil
	}
	s.pipeline.SetParticipants(conversationID, view.Participants)
	for _, uid := range view.Participants {
		if uid == s.userID {
			continue
		}
		rec, err := s.conn.QueryPresence(ctx, uid)
		if err != nil {
			s.logger.Debug("Presence query failed", "peer_id", uid, "error", err)
			continue
		}
		s.setPresence(*rec)
	}
	return result, nil
}

// CloseConversation 离开房间；进行中的发送不受影响
func (s *Session) CloseConversation(ctx context.Context, conversationID int64) error {
	s.mu.Lock()
	delete(s.open, conversationID)
	delete(s.typing, conversationID)
	s.mu.Unlock()

	return s.conn.Leave(ctx, conversationID)
}

// Send 发送消息
func (s *Session) Send(ctx context.Context, conversationID int64, text string, attachments []model.Attachment) (*pipeline.Entry, error) {
	if s.cryptoErr != nil {
		return nil, sharedErrors.ErrCryptoUnavailable.Wrap(s.cryptoErr)
	}
	return s.pipeline.Send(ctx, conversationID, text, attachments)
}

// Retry 重发失败的消息
func (s *Session) Retry(ctx context.Context, conversationID int64, tempID string) (*pipeline.Entry, error) {
	return s.pipeline.Retry(ctx, conversationID, tempID)
}

// DeleteMessage 删除自己发出的消息
func (s *Session) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	if err := s.api.DeleteMessage(ctx, messageID); err != nil {
		return err
	}
	s.pipeline.Remove(conversationID, messageID)
	return nil
}

// ToggleFlag 设置星标/免打扰/归档，value 为 nil 时翻转
// 归档当前打开的会话会同时离开房间，之后的新消息只回执 delivered
func (s *Session) ToggleFlag(ctx context.Context, conversationID int64, flag model.ConversationFlag, value *bool) (*model.ConversationView, error) {
	view, err := s.api.SetFlag(ctx, conversationID, flag, value)
	if err != nil {
		return nil, err
	}
	if flag != model.FlagArchive || !view.Flags.Archived {
		return view, nil
	}

	s.mu.RLock()
	open := s.open[conversationID]
	s.mu.RUnlock()
	if open {
		if err := s.CloseConversation(ctx, conversationID); err != nil {
			s.logger.Warn("Failed to leave archived conversation", "conversation_id", conversationID, "error", err)
		}
	}
	return view, nil
}

// DeleteConversation 从自己的列表中删除会话
func (s *Session) DeleteConversation(ctx context.Context, conversationID int64) error {
	return s.api.DeleteConversation(ctx, conversationID)
}

// Typing 上报输入状态
func (s *Session) Typing(ctx context.Context, conversationID int64, typing bool) error {
	if typing {
		return s.conn.TypingStart(ctx, conversationID)
	}
	return s.conn.TypingStop(ctx, conversationID)
}

// Presence 已知的用户在线状态
func (s *Session) Presence(userID int64) (model.PresenceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.presence[userID]
	return rec, ok
}

// TypingUsers 会话中正在输入的用户
func (s *Session) TypingUsers(conversationID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for uid := range s.typing[conversationID] {
		out = append(out, uid)
	}
	slices.Sort(out)
	return out
}

// Done 会话结束（主动关闭或连接断开）
func (s *Session) Done() <-chan struct{} {
	return s.loopDone
}

// Close 关闭会话
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	<-s.loopDone
	return err
}

// ============== 事件循环 ==============

func (s *Session) eventLoop() {
	defer close(s.loopDone)

	s.dispatch()

	select {
	case <-s.closed:
	default:
		s.logger.Warn("Realtime connection lost")
		if s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect()
		}
	}
}

// dispatch 处理推送与本地的输入指示过期，直到连接关闭
func (s *Session) dispatch() {
	events := s.conn.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case exp := <-s.typingExpired:
			s.expireTyping(exp)
		}
	}
}

func (s *Session) handleEvent(ev *proto.ServerEvent) {
	switch ev.Event {
	case proto.EventNewMessage:
		var msg model.Message
		if !s.decode(ev, &msg) {
			return
		}
		s.handleNewMessage(&msg)

	case proto.EventMessageStatus:
		var update proto.StatusUpdate
		if !s.decode(ev, &update) {
			return
		}
		entry, changed := s.pipeline.ApplyStatus(&update)
		if changed && s.handlers.OnStatus != nil {
			s.handlers.OnStatus(*entry)
		}

	case proto.EventMessageDeleted:
		var deleted proto.MessageDeleted
		if !s.decode(ev, &deleted) {
			return
		}
		if s.pipeline.Remove(deleted.ConversationID, deleted.MessageID) && s.handlers.OnDeleted != nil {
			s.handlers.OnDeleted(deleted.ConversationID, deleted.MessageID)
		}

	case proto.EventTypingIndicator:
		var ind proto.TypingIndicator
		if !s.decode(ev, &ind) {
			return
		}
		// 自己在其他设备上的输入不显示
		if ind.UserID == s.userID {
			return
		}
		s.setTyping(ind)
		if s.handlers.OnTyping != nil {
			s.handlers.OnTyping(ind)
		}

	case proto.EventPresenceUpdate:
		// 不受会话免打扰/归档影响
		var rec model.PresenceRecord
		if !s.decode(ev, &rec) {
			return
		}
		s.setPresence(rec)
		if s.handlers.OnPresence != nil {
			s.handlers.OnPresence(rec)
		}

	default:
		s.logger.Debug("Unhandled event", "event", ev.Event)
	}
}

// handleNewMessage 合并新消息并回执 delivered；会话处于打开状态时直接回执 read
func (s *Session) handleNewMessage(msg *model.Message) {
	entry, added := s.pipeline.Ingest(msg)
	if entry == nil {
		return
	}

	if added && msg.SenderID != s.userID {
		s.mu.RLock()
		open := s.open[msg.ConversationID]
		s.mu.RUnlock()

		status := model.StatusDelivered
		if open {
			status = model.StatusRead
		}
		if err := s.conn.ReportStatus(&proto.StatusUpdate{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Status:         status,
			UserID:         s.userID,
		}); err != nil {
			s.logger.Warn("Failed to acknowledge message", "message_id", msg.ID, "error", err)
		}
	}

	if s.handlers.OnMessage != nil {
		s.handlers.OnMessage(*entry)
	}
}

func (s *Session) decode(ev *proto.ServerEvent, v any) bool {
	if err := json.Unmarshal(ev.Data, v); err != nil {
		s.logger.Warn("Malformed event payload", "event", ev.Event, "error", err)
		return false
	}
	return true
}

type typingExpiry struct {
	conversationID int64
	userID         int64
	version        uint64
}

// setTyping 每次 start 都重新登记过期，丢失 stop 时指示也会消失
func (s *Session) setTyping(ind proto.TypingIndicator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := s.typing[ind.ConversationID]
	if !ind.Typing {
		delete(users, ind.UserID)
		return
	}

	if users == nil {
		users = make(map[int64]uint64)
		s.typing[ind.ConversationID] = users
	}
	s.typingSeq++
	exp := typingExpiry{conversationID: ind.ConversationID, userID: ind.UserID, version: s.typingSeq}
	users[ind.UserID] = exp.version

	time.AfterFunc(s.typingTTL, func() {
		select {
		case s.typingExpired <- exp:
		case <-s.loopDone:
		}
	})
}

func (s *Session) expireTyping(exp typingExpiry) {
	s.mu.Lock()
	users := s.typing[exp.conversationID]
	if current, ok := users[exp.userID]; !ok || current != exp.version {
		s.mu.Unlock()
		return
	}
	delete(users, exp.userID)
	s.mu.Unlock()

	s.logger.Debug("Typing indicator expired", "conversation_id", exp.conversationID, "peer_id", exp.userID)
	if s.handlers.OnTyping != nil {
		s.handlers.OnTyping(proto.TypingIndicator{ConversationID: exp.conversationID, UserID: exp.userID})
	}
}

func (s *Session) setPresence(rec model.PresenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.presence[rec.UserID]; ok && rec.UpdatedAt.Before(prev.UpdatedAt) {
		return
	}
	s.presence[rec.UserID] = rec
}
