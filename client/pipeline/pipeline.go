// Package pipeline 客户端消息管线
//
// 负责乐观发送、按 clientMsgId 对账、会话时间线排序、重试、推送去重与状态推进。
// 所有网络调用都在锁外进行，发送不会阻塞事件接收。
package pipeline

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/incyashraj/ParkShare-sub000/client/api"
	"github.com/incyashraj/ParkShare-sub000/shared/codec"
	"github.com/incyashraj/ParkShare-sub000/shared/delivery"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
	"github.com/incyashraj/ParkShare-sub000/shared/keys"
	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

const defaultPageSize = 50

// KeyResolver 公钥查询
type KeyResolver interface {
	FetchPublicKey(ctx context.Context, userID int64) (keys.PublicKey, error)
}

// MessageAPI 消息相关的 REST 接口
type MessageAPI interface {
	SendMessage(ctx context.Context, req *api.SendMessageRequest) (*model.Message, error)
	Messages(ctx context.Context, conversationID, before int64, limit int) ([]*model.Message, error)
	MarkRead(ctx context.Context, conversationID int64) (int, error)
	GetConversation(ctx context.Context, id int64) (*model.ConversationView, error)
}

// Entry 时间线条目
type Entry struct {
	ID             int64 // 服务端 ID，未确认前为 0
	TempID         string
	ConversationID int64
	SenderID       int64
	Content        codec.Content
	Text           string // 展示文本，无法解密时为占位文本
	Decrypted      bool
	Attachments    []model.Attachment
	Timestamp      time.Time
	Status         model.MessageStatus
	ReadBy         []int64

	seq uint64 // 到达顺序，时间戳相同时排序用
}

// Pending 是否尚未被服务端确认
func (e *Entry) Pending() bool {
	return e.ID == 0
}

func (e *Entry) clone() Entry {
	c := *e
	c.Attachments = slices.Clone(e.Attachments)
	c.ReadBy = slices.Clone(e.ReadBy)
	return c
}

// Warning 加载时的聚合解密告警
type Warning struct {
	ConversationID int64
	Count          int
}

// LoadResult 加载结果
type LoadResult struct {
	Entries []Entry
	Warning *Warning
}

// outgoing 待发送内容，重试时原样重发
type outgoing struct {
	conversationID int64
	plaintext      string
	attachments    []model.Attachment
}

// Pipeline 消息管线，每个会话对象持有一个
type Pipeline struct {
	self    int64
	keyPair *keys.KeyPair
	keys    KeyResolver
	api     MessageAPI
	logger  *slog.Logger

	mu           sync.Mutex
	timelines    map[int64][]*Entry
	outbox       map[string]*outgoing
	participants map[int64][]int64
	seq          uint64
}

// New 创建管线；kp 为 nil 时仍可浏览，但发送返回 ErrCryptoUnavailable
func New(self int64, kp *keys.KeyPair, resolver KeyResolver, messageAPI MessageAPI, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		self:         self,
		keyPair:      kp,
		keys:         resolver,
		api:          messageAPI,
		logger:       logger,
		timelines:    make(map[int64][]*Entry),
		outbox:       make(map[string]*outgoing),
		participants: make(map[int64][]int64),
	}
}

// CanSend 本会话是否可以发送加密消息
func (p *Pipeline) CanSend() bool {
	return p.keyPair != nil
}

// SetParticipants 缓存会话成员（来自会话列表）
func (p *Pipeline) SetParticipants(conversationID int64, participants []int64) {
	p.mu.Lock()
	p.participants[conversationID] = slices.Clone(participants)
	p.mu.Unlock()
}

// Send 乐观发送
//
// 先插入 sending 条目；对方未发布公钥时撤回条目并返回 ErrRecipientNotReady，不发起发送请求。
// 网络失败时条目转为 failed，可 Retry；其余错误撤回条目并原样返回。
func (p *Pipeline) Send(ctx context.Context, conversationID int64, plaintext string, attachments []model.Attachment) (*Entry, error) {
	if p.keyPair == nil {
		return nil, sharedErrors.ErrCryptoUnavailable
	}

	tempID := uuid.NewString()
	out := &outgoing{
		conversationID: conversationID,
		plaintext:      plaintext,
		attachments:    slices.Clone(attachments),
	}

	p.mu.Lock()
	p.outbox[tempID] = out
	p.insertLocked(&Entry{
		TempID:         tempID,
		ConversationID: conversationID,
		SenderID:       p.self,
		Content:        codec.Plaintext(plaintext),
		Text:           plaintext,
		Decrypted:      true,
		Attachments:    out.attachments,
		Timestamp:      time.Now(),
		Status:         model.StatusSending,
	})
	p.mu.Unlock()

	return p.submit(ctx, tempID, out)
}

// Retry 重发 failed 条目，沿用原 clientMsgId 与明文
func (p *Pipeline) Retry(ctx context.Context, conversationID int64, tempID string) (*Entry, error) {
	p.mu.Lock()
	out, ok := p.outbox[tempID]
	e := p.findByTempLocked(conversationID, tempID)
	if !ok || e == nil {
		p.mu.Unlock()
		return nil, sharedErrors.ErrMessageNotFound
	}
	next, changed := delivery.Retry(e.Status)
	if !changed {
		p.mu.Unlock()
		return nil, sharedErrors.ErrInvalidStatus
	}
	e.Status = next
	p.mu.Unlock()

	return p.submit(ctx, tempID, out)
}

func (p *Pipeline) submit(ctx context.Context, tempID string, out *outgoing) (*Entry, error) {
	msg, err := p.deliver(ctx, tempID, out)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		if sharedErrors.Is(err, sharedErrors.ErrNetworkFailure) {
			e := p.findByTempLocked(out.conversationID, tempID)
			if e == nil {
				return nil, err
			}
			e.Status = model.StatusFailed
			p.logger.Warn("Message send failed", "conversation_id", out.conversationID, "temp_id", tempID, "error", err)
			c := e.clone()
			return &c, err
		}
		p.removeTempLocked(out.conversationID, tempID)
		delete(p.outbox, tempID)
		return nil, err
	}

	delete(p.outbox, tempID)
	e := p.reconcileLocked(tempID, msg, out.plaintext)
	if e == nil {
		return nil, nil
	}
	c := e.clone()
	return &c, nil
}

// deliver 解析接收者公钥、加密并提交
func (p *Pipeline) deliver(ctx context.Context, tempID string, out *outgoing) (*model.Message, error) {
	participants, err := p.conversationParticipants(ctx, out.conversationID)
	if err != nil {
		return nil, err
	}

	content, err := p.Seal(ctx, participants, out.plaintext)
	if err != nil {
		return nil, err
	}

	return p.api.SendMessage(ctx, &api.SendMessageRequest{
		ConversationID: out.conversationID,
		ClientMsgID:    tempID,
		Content:        content.Wire(),
		SenderID:       p.self,
		Attachments:    out.attachments,
	})
}

// Seal 为会话成员（含自己）加密正文
// 任一成员未发布公钥时返回 ErrRecipientNotReady
func (p *Pipeline) Seal(ctx context.Context, participants []int64, plaintext string) (codec.Content, error) {
	if p.keyPair == nil {
		return codec.Content{}, sharedErrors.ErrCryptoUnavailable
	}

	recipients := []keys.PublicKey{p.keyPair.Public}
	for _, uid := range participants {
		if uid == p.self {
			continue
		}
		pub, err := p.keys.FetchPublicKey(ctx, uid)
		if err != nil {
			if sharedErrors.Is(err, sharedErrors.ErrPublicKeyNotFound) {
				return codec.Content{}, sharedErrors.ErrRecipientNotReady.Wrap(err)
			}
			return codec.Content{}, err
		}
		recipients = append(recipients, pub)
	}
	return codec.Encrypt(plaintext, recipients...)
}

func (p *Pipeline) conversationParticipants(ctx context.Context, conversationID int64) ([]int64, error) {
	p.mu.Lock()
	cached, ok := p.participants[conversationID]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	view, err := p.api.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	p.SetParticipants(conversationID, view.Participants)
	return view.Participants, nil
}

// Ingest 处理服务端推送的新消息
// 按 ID 去重；自己发出的消息按 clientMsgId 与乐观条目合并。返回条目以及是否为新条目
func (p *Pipeline) Ingest(msg *model.Message) (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, added := p.ingestLocked(msg)
	if e == nil {
		return nil, false
	}
	c := e.clone()
	return &c, added
}

func (p *Pipeline) ingestLocked(msg *model.Message) (*Entry, bool) {
	if msg.Deleted {
		p.removeLocked(msg.ConversationID, msg.ID)
		return nil, false
	}

	if e := p.findLocked(msg.ConversationID, msg.ID); e != nil {
		p.mergeLocked(e, msg)
		return e, false
	}

	if msg.ClientMsgID != "" {
		if e := p.findByTempLocked(msg.ConversationID, msg.ClientMsgID); e != nil {
			return p.reconcileLocked(msg.ClientMsgID, msg, e.Text), false
		}
	}

	content := codec.Detect(msg.Content)
	text, ok := codec.Reveal(content, p.keyPair)
	e := &Entry{
		ID:             msg.ID,
		TempID:         msg.ClientMsgID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        content,
		Text:           text,
		Decrypted:      ok,
		Attachments:    slices.Clone(msg.Attachments),
		Timestamp:      msg.Timestamp,
		Status:         msg.Status,
		ReadBy:         slices.Clone(msg.ReadBy),
	}
	p.insertLocked(e)
	return e, true
}

// reconcileLocked 用服务端记录替换乐观条目，保持同一个条目
func (p *Pipeline) reconcileLocked(tempID string, msg *model.Message, plaintext string) *Entry {
	e := p.findByTempLocked(msg.ConversationID, tempID)
	if e == nil {
		// 乐观条目已被推送合并，或本地从未有过
		if e = p.findLocked(msg.ConversationID, msg.ID); e != nil {
			p.mergeLocked(e, msg)
			return e
		}
		e, _ = p.ingestLocked(msg)
		return e
	}

	if dup := p.findLocked(msg.ConversationID, msg.ID); dup != nil && dup != e {
		p.removeEntryLocked(dup)
	}

	e.ID = msg.ID
	e.Content = codec.Detect(msg.Content)
	e.Text = plaintext
	e.Decrypted = true
	e.Timestamp = msg.Timestamp
	e.Attachments = slices.Clone(msg.Attachments)
	if e.Status == model.StatusFailed {
		e.Status = model.StatusSending
	}
	next := msg.Status
	if next == model.StatusSending || next == "" {
		next = model.StatusSent
	}
	e.Status, _ = delivery.Advance(e.Status, next)
	e.ReadBy = mergeIDs(e.ReadBy, msg.ReadBy)

	p.sortLocked(msg.ConversationID)
	return e
}

func (p *Pipeline) mergeLocked(e *Entry, msg *model.Message) {
	e.Status, _ = delivery.Advance(e.Status, msg.Status)
	e.ReadBy = mergeIDs(e.ReadBy, msg.ReadBy)
}

// ApplyStatus 应用状态推送；状态只前进不后退
func (p *Pipeline) ApplyStatus(u *proto.StatusUpdate) (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(u.ConversationID, u.MessageID)
	if e == nil && u.ClientMsgID != "" {
		e = p.findByTempLocked(u.ConversationID, u.ClientMsgID)
	}
	if e == nil {
		return nil, false
	}
	if e.ID == 0 && u.MessageID != 0 {
		e.ID = u.MessageID
	}

	next, changed := delivery.Advance(e.Status, u.Status)
	e.Status = next
	if u.Status == model.StatusRead && u.UserID != 0 && !slices.Contains(e.ReadBy, u.UserID) {
		e.ReadBy = append(e.ReadBy, u.UserID)
		changed = true
	}
	c := e.clone()
	return &c, changed
}

// Remove 删除条目（对方撤回或消息被删除）
func (p *Pipeline) Remove(conversationID, messageID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(conversationID, messageID)
}

// Load 拉取最新一页历史消息并合并进时间线
// 无法解密的消息替换为占位文本，每次加载对时间线中无法解密的消息产生一条聚合告警
func (p *Pipeline) Load(ctx context.Context, conversationID int64) (*LoadResult, error) {
	msgs, err := p.api.Messages(ctx, conversationID, 0, defaultPageSize)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	for _, msg := range msgs {
		p.ingestLocked(msg)
	}
	p.sortLocked(conversationID)
	entries := p.snapshotLocked(conversationID)
	p.mu.Unlock()

	// 按整条时间线计数，加载前由实时推送进入的消息同样计入
	undecryptable := 0
	for _, e := range entries {
		if e.Content.IsEncrypted() && !e.Decrypted {
			undecryptable++
		}
	}

	result := &LoadResult{Entries: entries}
	if undecryptable > 0 {
		result.Warning = &Warning{ConversationID: conversationID, Count: undecryptable}
		p.logger.Warn("Some messages could not be decrypted",
			"conversation_id", conversationID,
			"count", undecryptable)
	}
	return result, nil
}

// Open 打开会话：加载历史并批量标记已读
func (p *Pipeline) Open(ctx context.Context, conversationID int64) (*LoadResult, error) {
	result, err := p.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := p.api.MarkRead(ctx, conversationID); err != nil {
		p.logger.Warn("Failed to mark conversation read", "conversation_id", conversationID, "error", err)
	}
	return result, nil
}

// Timeline 会话时间线快照
func (p *Pipeline) Timeline(conversationID int64) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(conversationID)
}

// ============== 内部辅助 ==============

func (p *Pipeline) snapshotLocked(conversationID int64) []Entry {
	tl := p.timelines[conversationID]
	out := make([]Entry, len(tl))
	for i, e := range tl {
		out[i] = e.clone()
	}
	return out
}

func (p *Pipeline) insertLocked(e *Entry) {
	p.seq++
	e.seq = p.seq
	p.timelines[e.ConversationID] = append(p.timelines[e.ConversationID], e)
	p.sortLocked(e.ConversationID)
}

func (p *Pipeline) sortLocked(conversationID int64) {
	slices.SortStableFunc(p.timelines[conversationID], func(a, b *Entry) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

func (p *Pipeline) findLocked(conversationID, messageID int64) *Entry {
	if messageID == 0 {
		return nil
	}
	for _, e := range p.timelines[conversationID] {
		if e.ID == messageID {
			return e
		}
	}
	return nil
}

func (p *Pipeline) findByTempLocked(conversationID int64, tempID string) *Entry {
	if tempID == "" {
		return nil
	}
	for _, e := range p.timelines[conversationID] {
		if e.TempID == tempID && e.SenderID == p.self {
			return e
		}
	}
	return nil
}

func (p *Pipeline) removeLocked(conversationID, messageID int64) bool {
	e := p.findLocked(conversationID, messageID)
	if e == nil {
		return false
	}
	p.removeEntryLocked(e)
	return true
}

func (p *Pipeline) removeTempLocked(conversationID int64, tempID string) {
	if e := p.findByTempLocked(conversationID, tempID); e != nil {
		p.removeEntryLocked(e)
	}
}

func (p *Pipeline) removeEntryLocked(target *Entry) {
	tl := p.timelines[target.ConversationID]
	p.timelines[target.ConversationID] = slices.DeleteFunc(tl, func(e *Entry) bool {
		return e == target
	})
}

func mergeIDs(a, b []int64) []int64 {
	for _, id := range b {
		if !slices.Contains(a, id) {
			a = append(a, id)
		}
	}
	return a
}
