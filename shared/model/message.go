package model

import (
	"slices"
	"time"
)

// MessageStatus 消息投递状态
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Attachment 附件描述（由上传服务返回，消息链路不解析其内容）
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
}

// Message 服务端消息记录
// Content 为线上传输格式：加密信封或历史明文
type Message struct {
	ID             int64         `json:"id"`
	ClientMsgID    string        `json:"clientMsgId"` // 客户端幂等令牌
	ConversationID int64         `json:"conversationId"`
	SenderID       int64         `json:"senderId"`
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         MessageStatus `json:"status"`
	ReadBy         []int64       `json:"readBy,omitempty"`
	Deleted        bool          `json:"deleted,omitempty"`
}

// IsReadBy 判断用户是否已读
func (m *Message) IsReadBy(userID int64) bool {
	return slices.Contains(m.ReadBy, userID)
}
