package proto

import (
	"encoding/json"
	"time"

	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

// ============== 实时事件名称 ==============

// 客户端 -> 服务端
const (
	EventAuthenticate  = "authenticate-user"
	EventJoinRoom      = "join-conversation"
	EventLeaveRoom     = "leave-conversation"
	EventTypingStart   = "typing-start"
	EventTypingStop    = "typing-stop"
	EventHeartbeat     = "heartbeat"
	EventPresenceQuery = "presence-query"
	EventActivity      = "activity"
)

// 服务端 -> 客户端（EventMessageStatus 双向使用）
const (
	EventNewMessage      = "new-message"
	EventMessageStatus   = "message-status"
	EventMessageDeleted  = "message-deleted"
	EventTypingIndicator = "typing-indicator"
	EventPresenceUpdate  = "user-presence-update"
)

// ============== 客户端帧载荷 ==============

// AuthRequest 认证请求（首帧）
type AuthRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"deviceId"`
	Platform string `json:"platform"`
}

// AuthAck 认证响应
type AuthAck struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	UserID  int64  `json:"userId"`
	ConnID  int64  `json:"connId"`
}

// ClientRequest 客户端请求
type ClientRequest struct {
	ReqID string          `json:"reqId"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerResponse 请求响应
type ServerResponse struct {
	ReqID   string          `json:"reqId"`
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ServerEvent 服务端推送
type ServerEvent struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// RoomRequest 加入/离开会话房间
type RoomRequest struct {
	ConversationID int64 `json:"conversationId"`
}

// TypingRequest 输入状态
type TypingRequest struct {
	ConversationID int64 `json:"conversationId"`
}

// ActivityRequest 活动上报（刷新在线状态并携带活动描述）
type ActivityRequest struct {
	Label string `json:"label"`
}

// PresenceQuery 查询在线状态
type PresenceQuery struct {
	UserID int64 `json:"userId"`
}

// ============== 事件载荷 ==============

// StatusUpdate 消息状态变更
// 客户端上报 delivered 时 UserID 由服务端填充
type StatusUpdate struct {
	MessageID      int64               `json:"messageId"`
	ConversationID int64               `json:"conversationId"`
	ClientMsgID    string              `json:"clientMsgId,omitempty"`
	Status         model.MessageStatus `json:"status"`
	UserID         int64               `json:"userId"`
}

// TypingIndicator 输入状态推送
type TypingIndicator struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
	Typing         bool  `json:"typing"`
}

// MessageDeleted 消息删除推送
type MessageDeleted struct {
	MessageID      int64 `json:"messageId"`
	ConversationID int64 `json:"conversationId"`
}

// NewEvent 构建服务端事件
func NewEvent(event string, data any) (*ServerEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &ServerEvent{Event: event, Data: raw, Timestamp: time.Now().UnixMilli()}, nil
}

// ============== 节点间消息 ==============

// UpstreamMessage access -> web，web 实例以队列组消费，每条只处理一次
type UpstreamMessage struct {
	NodeID       string        `json:"nodeId"`
	ConnID       int64         `json:"connId"`
	UserID       int64         `json:"userId"`
	StatusUpdate *StatusUpdate `json:"statusUpdate,omitempty"`
	UserOnline   *UserOnline   `json:"userOnline,omitempty"`
	UserOffline  *UserOffline  `json:"userOffline,omitempty"`
}

type UserOnline struct {
	UserID   int64  `json:"userId"`
	ConnID   int64  `json:"connId"`
	DeviceID string `json:"deviceId"`
	Platform string `json:"platform"`
}

type UserOffline struct {
	UserID int64 `json:"userId"`
	ConnID int64 `json:"connId"`
}

// DownstreamMessage 广播到所有 access 节点
// 房间成员一定收到；Users 中的用户无论是否在房间内都会收到（用于会话列表刷新）；
// PresenceOf 不为 0 时按房间范围计算关注者
type DownstreamMessage struct {
	ConversationID int64        `json:"conversationId,omitempty"`
	Users          []int64      `json:"users,omitempty"`
	PresenceOf     int64        `json:"presenceOf,omitempty"`
	ExcludeConnID  int64        `json:"excludeConnId,omitempty"`
	Event          *ServerEvent `json:"event"`
}
