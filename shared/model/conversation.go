package model

import (
	"slices"
	"time"
)

// ConversationFlag 会话标记类型
type ConversationFlag string

const (
	FlagStar    ConversationFlag = "star"
	FlagMute    ConversationFlag = "mute"
	FlagArchive ConversationFlag = "archive"
)

// ParseConversationFlag 解析标记名称
func ParseConversationFlag(s string) (ConversationFlag, bool) {
	switch f := ConversationFlag(s); f {
	case FlagStar, FlagMute, FlagArchive:
		return f, true
	}
	return "", false
}

// UserFlags 单个用户对会话的个人标记
type UserFlags struct {
	Starred  bool `json:"starred"`
	Muted    bool `json:"muted"`
	Archived bool `json:"archived"`
}

// Get 读取指定标记
func (f UserFlags) Get(flag ConversationFlag) bool {
	switch flag {
	case FlagStar:
		return f.Starred
	case FlagMute:
		return f.Muted
	case FlagArchive:
		return f.Archived
	}
	return false
}

// With 返回设置了指定标记的副本
func (f UserFlags) With(flag ConversationFlag, value bool) UserFlags {
	switch flag {
	case FlagStar:
		f.Starred = value
	case FlagMute:
		f.Muted = value
	case FlagArchive:
		f.Archived = value
	}
	return f
}

// MessageRef 会话最后一条消息的摘要
type MessageRef struct {
	ID        int64     `json:"id"`
	SenderID  int64     `json:"senderId"`
	Preview   string    `json:"preview"` // 消息正文（加密信封或历史明文）
	Timestamp time.Time `json:"timestamp"`
}

// Conversation 会话
// Flags/Unread 按用户ID区分，一个参与者的操作不会影响其他参与者
type Conversation struct {
	ID           int64               `json:"id"`
	Participants []int64             `json:"participants"`
	Subject      string              `json:"subject"`
	Flags        map[int64]UserFlags `json:"flags"`
	LastActivity time.Time           `json:"lastActivity"`
	LastMessage  *MessageRef         `json:"lastMessage,omitempty"`
	Unread       map[int64]int       `json:"unread"`
	CreatedAt    time.Time           `json:"createdAt"`
	Deleted      map[int64]bool      `json:"-"` // 已从该用户的列表中删除
}

// HasParticipant 是否为会话参与者
func (c *Conversation) HasParticipant(userID int64) bool {
	return slices.Contains(c.Participants, userID)
}

// OtherParticipants 除指定用户外的参与者
func (c *Conversation) OtherParticipants(userID int64) []int64 {
	others := make([]int64, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			others = append(others, p)
		}
	}
	return others
}

// FlagsFor 获取用户的个人标记
func (c *Conversation) FlagsFor(userID int64) UserFlags {
	if c.Flags == nil {
		return UserFlags{}
	}
	return c.Flags[userID]
}

// DeletedFor 会话是否已被该用户删除
func (c *Conversation) DeletedFor(userID int64) bool {
	return c.Deleted != nil && c.Deleted[userID]
}

// ConversationView 单个用户视角下的会话（只包含该用户自己的标记和未读数）
type ConversationView struct {
	ID               int64            `json:"id"`
	Participants     []int64          `json:"participants"`
	ParticipantNames map[int64]string `json:"participantNames,omitempty"`
	Subject          string           `json:"subject"`
	Flags            UserFlags        `json:"flags"`
	LastActivity     time.Time        `json:"lastActivity"`
	LastMessage      *MessageRef      `json:"lastMessage,omitempty"`
	Unread           int              `json:"unread"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// ViewFor 投影为指定用户的视图
func (c *Conversation) ViewFor(userID int64) *ConversationView {
	v := &ConversationView{
		ID:           c.ID,
		Participants: c.Participants,
		Subject:      c.Subject,
		Flags:        c.FlagsFor(userID),
		LastActivity: c.LastActivity,
		LastMessage:  c.LastMessage,
		CreatedAt:    c.CreatedAt,
	}
	if c.Unread != nil {
		v.Unread = c.Unread[userID]
	}
	return v
}
