package model

import "time"

// SessionRoute 用户一个在线会话所在的接入节点，web 据此把推送投递到对应节点
type SessionRoute struct {
	UserID      int64     `json:"userId"`
	NodeID      string    `json:"nodeId"`
	ConnID      int64     `json:"connId"`
	DeviceID    string    `json:"deviceId,omitempty"`
	Platform    string    `json:"platform,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}
