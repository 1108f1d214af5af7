package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/incyashraj/ParkShare-sub000/shared/model"
)

const keyPrefix = "parkshare:"

const (
	// RouteTTL 会话路由保留时长，心跳时续期
	RouteTTL = 24 * time.Hour

	// PresenceTTL 在线状态保留时长（保留 lastSeen）
	PresenceTTL = 30 * 24 * time.Hour

	// ConversationMembersTTL 参与者缓存 TTL
	ConversationMembersTTL = 7 * 24 * time.Hour
)

// BuildRouteKey Hash：field 为 connId，value 为 SessionRoute JSON
func BuildRouteKey(userID int64) string {
	return fmt.Sprintf("%sroute:%d", keyPrefix, userID)
}

// BuildPresenceKey Hash：PresenceRecord 字段
func BuildPresenceKey(userID int64) string {
	return fmt.Sprintf("%spresence:%d", keyPrefix, userID)
}

// BuildConversationMembersKey Set：会话参与者，由 web 写入，access 加入房间时校验
func BuildConversationMembersKey(conversationID int64) string {
	return fmt.Sprintf("%sconversation:members:%d", keyPrefix, conversationID)
}

// RouteStore 会话路由存储
type RouteStore interface {
	Register(ctx context.Context, route *model.SessionRoute) error
	Unregister(ctx context.Context, userID, connID int64) error
	Get(ctx context.Context, userID int64) ([]model.SessionRoute, error)
	Refresh(ctx context.Context, userID int64) error
}

func ParseRoute(data string) (*model.SessionRoute, error) {
	var route model.SessionRoute
	if err := json.Unmarshal([]byte(data), &route); err != nil {
		return nil, err
	}
	return &route, nil
}
