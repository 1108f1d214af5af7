package model

import "time"

// PresenceStatus 在线状态
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)

// Valid 是否为合法状态
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// PresenceRecord 用户在线状态快照
type PresenceRecord struct {
	UserID       int64          `json:"userId"`
	Status       PresenceStatus `json:"status"`
	LastSeen     time.Time      `json:"lastSeen"`               // 最近一次离线时间（仅 offline 时更新）
	LastActivity string         `json:"lastActivity,omitempty"` // 最近活动描述，如 "viewing conversation"
	UpdatedAt    time.Time      `json:"updatedAt"`
}
