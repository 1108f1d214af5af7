// Package room 会话房间：一个连接在会话处于活动视图期间加入该会话的房间，
// 新消息、状态变更和输入状态只扇出给房间内的连接。
package room

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/incyashraj/ParkShare-sub000/access/internal/connection"
	sharedErrors "github.com/incyashraj/ParkShare-sub000/shared/errors"
)

// MembershipChecker 查询会话参与者
type MembershipChecker interface {
	Participants(ctx context.Context, conversationID int64) ([]int64, error)
}

// Room 单个会话的房间
type Room struct {
	id           int64
	participants map[int64]struct{}
	conns        map[int64]*connection.Connection
}

// Hub 本节点所有房间
type Hub struct {
	rooms     map[int64]*Room
	connRooms map[int64]map[int64]struct{} // connID -> conversationID set
	members   MembershipChecker
	logger    *slog.Logger
	mu        sync.RWMutex
}

func NewHub(members MembershipChecker, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:     make(map[int64]*Room),
		connRooms: make(map[int64]map[int64]struct{}),
		members:   members,
		logger:    logger.With("component", "RoomHub"),
	}
}

// Join 加入会话房间，只有会话参与者可以加入；重复加入无副作用
func (h *Hub) Join(ctx context.Context, conn *connection.Connection, conversationID int64) error {
	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	var participants map[int64]struct{}
	if ok {
		participants = r.participants
	}
	h.mu.RUnlock()

	if participants == nil {
		ids, err := h.members.Participants(ctx, conversationID)
		if err != nil {
			return sharedErrors.ErrServerError.Wrap(err)
		}
		if len(ids) == 0 {
			return sharedErrors.ErrConversationNotFound
		}
		participants = make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			participants[id] = struct{}{}
		}
	}
	if _, ok := participants[conn.UserID()]; !ok {
		return sharedErrors.ErrNotParticipant
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok = h.rooms[conversationID]
	if !ok {
		r = &Room{
			id:           conversationID,
			participants: participants,
			conns:        make(map[int64]*connection.Connection),
		}
		h.rooms[conversationID] = r
	}
	r.conns[conn.ID()] = conn

	if _, ok := h.connRooms[conn.ID()]; !ok {
		h.connRooms[conn.ID()] = make(map[int64]struct{})
	}
	h.connRooms[conn.ID()][conversationID] = struct{}{}
	return nil
}

// Leave 离开房间，返回此前是否在房间内
func (h *Hub) Leave(conn *connection.Connection, conversationID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(conn.ID(), conversationID)
}

// LeaveAll 连接断开时离开所有房间，返回离开的会话
func (h *Hub) LeaveAll(conn *connection.Connection) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var left []int64
	for conversationID := range h.connRooms[conn.ID()] {
		left = append(left, conversationID)
	}
	for _, conversationID := range left {
		h.leaveLocked(conn.ID(), conversationID)
	}
	slices.Sort(left)
	return left
}

func (h *Hub) leaveLocked(connID, conversationID int64) bool {
	r, ok := h.rooms[conversationID]
	if !ok {
		return false
	}
	if _, ok := r.conns[connID]; !ok {
		return false
	}
	delete(r.conns, connID)
	if len(r.conns) == 0 {
		// 空房间连同参与者缓存一起释放，下次加入重新校验
		delete(h.rooms, conversationID)
	}

	if joined, ok := h.connRooms[connID]; ok {
		delete(joined, conversationID)
		if len(joined) == 0 {
			delete(h.connRooms, connID)
		}
	}
	return true
}

// InRoom 连接是否在房间内
func (h *Hub) InRoom(conn *connection.Connection, conversationID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connRooms[conn.ID()][conversationID]
	return ok
}

// Members 房间内的连接
func (h *Hub) Members(conversationID int64) []*connection.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rooms[conversationID]
	if !ok {
		return nil
	}
	conns := make([]*connection.Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// PresenceWatchers 关注 userID 在线状态的连接：
// 打开了某个以 userID 为参与者的会话的其他用户的连接。
// userID 自己不必在房间内（离线通知也要送达）。
func (h *Hub) PresenceWatchers(userID int64) []*connection.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[int64]struct{})
	var watchers []*connection.Connection
	for _, r := range h.rooms {
		if _, ok := r.participants[userID]; !ok {
			continue
		}
		for connID, conn := range r.conns {
			if conn.UserID() == userID {
				continue
			}
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			watchers = append(watchers, conn)
		}
	}
	return watchers
}

// Count 房间数量
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
