package connection

import (
	"errors"
	"slices"
	"sync"
	"time"
)

var ErrTooManyConnections = errors.New("too many connections")

// Manager 本节点会话表
// 一个用户可以同时有多台设备在线；用户的最后一个会话移除后即视为离开本节点
type Manager struct {
	mu     sync.RWMutex
	byID   map[int64]*Connection
	byUser map[int64][]*Connection
	limit  int
}

// NewManager limit <= 0 表示不限制
func NewManager(limit int) *Manager {
	return &Manager{
		byID:   make(map[int64]*Connection),
		byUser: make(map[int64][]*Connection),
		limit:  limit,
	}
}

// Add 登记已认证的会话
func (m *Manager) Add(conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limit > 0 && len(m.byID) >= m.limit {
		return ErrTooManyConnections
	}
	m.byID[conn.ID()] = conn
	m.byUser[conn.UserID()] = append(m.byUser[conn.UserID()], conn)
	return nil
}

// Remove 注销会话。只有第一次调用返回 true，下线清理据此只做一次
func (m *Manager) Remove(connID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.byID[connID]
	if !ok {
		return false
	}
	delete(m.byID, connID)

	uid := conn.UserID()
	rest := slices.DeleteFunc(m.byUser[uid], func(c *Connection) bool { return c.ID() == connID })
	if len(rest) == 0 {
		delete(m.byUser, uid)
	} else {
		m.byUser[uid] = rest
	}
	return true
}

func (m *Manager) Get(connID int64) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[connID]
}

// Sessions 用户在本节点的全部会话
func (m *Manager) Sessions(userID int64) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.byUser[userID])
}

// SessionCount 用户在本节点的会话数
func (m *Manager) SessionCount(userID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Idle 最后活跃时间早于 now-timeout 的会话
func (m *Manager) Idle(now time.Time, timeout time.Duration) []*Connection {
	cutoff := now.Add(-timeout)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var idle []*Connection
	for _, conn := range m.byID {
		if conn.LastActiveTime().Before(cutoff) {
			idle = append(idle, conn)
		}
	}
	return idle
}

// CloseAll 停机时关闭全部会话
func (m *Manager) CloseAll() {
	m.mu.RLock()
	all := make([]*Connection, 0, len(m.byID))
	for _, conn := range m.byID {
		all = append(all, conn)
	}
	m.mu.RUnlock()

	for _, conn := range all {
		conn.Close()
	}
}
