package redis

import (
	"strconv"
	"time"

	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

// 在线状态 Hash 字段
const (
	PresenceFieldStatus       = "status"
	PresenceFieldLastSeen     = "lastSeen"     // unix 毫秒
	PresenceFieldLastActivity = "lastActivity" // 活动描述
	PresenceFieldUpdatedAt    = "updatedAt"    // unix 毫秒
)

// EncodePresence 将在线状态编码为 Hash 字段
func EncodePresence(rec *model.PresenceRecord) map[string]any {
	fields := map[string]any{
		PresenceFieldStatus:       string(rec.Status),
		PresenceFieldLastActivity: rec.LastActivity,
		PresenceFieldUpdatedAt:    rec.UpdatedAt.UnixMilli(),
	}
	if !rec.LastSeen.IsZero() {
		fields[PresenceFieldLastSeen] = rec.LastSeen.UnixMilli()
	}
	return fields
}

// DecodePresence 从 Hash 字段解码在线状态
// 空 Hash 表示从未上线，返回 offline 且 LastSeen 为零值
func DecodePresence(userId int64, fields map[string]string) *model.PresenceRecord {
	rec := &model.PresenceRecord{UserID: userId, Status: model.PresenceOffline}
	if len(fields) == 0 {
		return rec
	}

	if s := model.PresenceStatus(fields[PresenceFieldStatus]); s.Valid() {
		rec.Status = s
	}
	rec.LastActivity = fields[PresenceFieldLastActivity]
	rec.LastSeen = parseMillis(fields[PresenceFieldLastSeen])
	rec.UpdatedAt = parseMillis(fields[PresenceFieldUpdatedAt])
	return rec
}

func parseMillis(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
