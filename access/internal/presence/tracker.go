// Package presence 用户在线状态跟踪
//
//	online  : 心跳在 AwayAfter 之内
//	away    : 心跳中断超过 AwayAfter
//	offline : 断开连接，或心跳中断超过 OfflineAfter（记录 lastSeen）
//
// 心跳或活动上报都会回到 online。状态变化通过 Broadcaster 发往所有 access 节点，
// 由各节点按房间计算关注者后扇出。
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/incyashraj/ParkShare-sub000/shared/model"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// Store 在线状态持久化（跨节点共享）
type Store interface {
	SavePresence(ctx context.Context, rec *model.PresenceRecord) error
	LoadPresence(ctx context.Context, userID int64) (*model.PresenceRecord, error)
	// ActiveSessions 用户在所有节点上的连接数
	ActiveSessions(ctx context.Context, userID int64) (int64, error)
}

// Broadcaster 下行广播
type Broadcaster interface {
	PublishDownstream(ctx context.Context, msg *proto.DownstreamMessage) error
}

type Config struct {
	AwayAfter    time.Duration
	OfflineAfter time.Duration
}

type entry struct {
	rec      model.PresenceRecord
	conns    int
	lastBeat time.Time
}

// Tracker 本节点用户的在线状态
type Tracker struct {
	cfg         Config
	store       Store
	broadcaster Broadcaster
	users       map[int64]*entry
	now         func() time.Time
	logger      *slog.Logger
	mu          sync.Mutex
}

func NewTracker(cfg Config, store Store, broadcaster Broadcaster, logger *slog.Logger) *Tracker {
	if cfg.AwayAfter <= 0 {
		cfg.AwayAfter = time.Minute
	}
	if cfg.OfflineAfter <= cfg.AwayAfter {
		cfg.OfflineAfter = 5 * cfg.AwayAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:         cfg,
		store:       store,
		broadcaster: broadcaster,
		users:       make(map[int64]*entry),
		now:         time.Now,
		logger:      logger.With("component", "PresenceTracker"),
	}
}

// Next 根据心跳空闲时长计算超时后的状态，只会降级
func Next(current model.PresenceStatus, idle time.Duration, cfg Config) model.PresenceStatus {
	switch {
	case current == model.PresenceOffline:
		return current
	case idle >= cfg.OfflineAfter:
		return model.PresenceOffline
	case idle >= cfg.AwayAfter:
		return model.PresenceAway
	}
	return current
}

// Connect 用户在本节点建立连接
func (t *Tracker) Connect(ctx context.Context, userID int64) {
	t.mu.Lock()
	now := t.now()
	e, ok := t.users[userID]
	if !ok {
		e = &entry{rec: model.PresenceRecord{UserID: userID, Status: model.PresenceOffline}}
		t.users[userID] = e
	}
	e.conns++
	e.lastBeat = now
	changed := t.setLocked(e, model.PresenceOnline, now)
	rec := e.rec
	t.mu.Unlock()

	if changed {
		t.publish(ctx, &rec)
	}
}

// Heartbeat 心跳
func (t *Tracker) Heartbeat(ctx context.Context, userID int64) {
	t.touch(ctx, userID, nil)
}

// Activity 活动上报，携带活动描述
func (t *Tracker) Activity(ctx context.Context, userID int64, label string) {
	t.touch(ctx, userID, &label)
}

func (t *Tracker) touch(ctx context.Context, userID int64, label *string) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := t.now()
	e.lastBeat = now
	changed := t.setLocked(e, model.PresenceOnline, now)
	if label != nil && e.rec.LastActivity != *label {
		e.rec.LastActivity = *label
		e.rec.UpdatedAt = now
		changed = true
	}
	rec := e.rec
	t.mu.Unlock()

	if changed {
		t.publish(ctx, &rec)
	}
}

// Disconnect 用户在本节点断开一个连接
// 所有节点上都没有连接时才置为 offline
func (t *Tracker) Disconnect(ctx context.Context, userID int64) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	e.conns--
	if e.conns > 0 {
		t.mu.Unlock()
		return
	}
	delete(t.users, userID)
	rec := e.rec
	t.mu.Unlock()

	if t.store != nil {
		n, err := t.store.ActiveSessions(ctx, userID)
		if err != nil {
			t.logger.Warn("Failed to count active sessions", "user_id", userID, "error", err)
		} else if n > 0 {
			return
		}
	}

	now := t.now()
	rec.Status = model.PresenceOffline
	rec.LastSeen = now
	rec.UpdatedAt = now
	t.publish(ctx, &rec)
}

// Sweep 按心跳空闲时长降级状态
func (t *Tracker) Sweep(ctx context.Context) int {
	t.mu.Lock()
	now := t.now()
	var changed []model.PresenceRecord
	for _, e := range t.users {
		next := Next(e.rec.Status, now.Sub(e.lastBeat), t.cfg)
		if t.setLocked(e, next, now) {
			changed = append(changed, e.rec)
		}
	}
	t.mu.Unlock()

	for i := range changed {
		t.publish(ctx, &changed[i])
	}
	return len(changed)
}

// Query 查询状态快照：优先本节点，其次共享存储
func (t *Tracker) Query(ctx context.Context, userID int64) (*model.PresenceRecord, error) {
	t.mu.Lock()
	if e, ok := t.users[userID]; ok {
		rec := e.rec
		t.mu.Unlock()
		return &rec, nil
	}
	t.mu.Unlock()

	if t.store == nil {
		return &model.PresenceRecord{UserID: userID, Status: model.PresenceOffline}, nil
	}
	return t.store.LoadPresence(ctx, userID)
}

// Run 周期性执行 Sweep（阻塞）
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.Sweep(ctx); n > 0 {
				t.logger.Debug("Presence sweep", "changed", n)
			}
		}
	}
}

func (t *Tracker) setLocked(e *entry, status model.PresenceStatus, now time.Time) bool {
	if e.rec.Status == status {
		return false
	}
	e.rec.Status = status
	e.rec.UpdatedAt = now
	if status == model.PresenceOffline {
		e.rec.LastSeen = now
	}
	return true
}

func (t *Tracker) publish(ctx context.Context, rec *model.PresenceRecord) {
	if t.store != nil {
		if err := t.store.SavePresence(ctx, rec); err != nil {
			t.logger.Warn("Failed to save presence", "user_id", rec.UserID, "error", err)
		}
	}
	if t.broadcaster == nil {
		return
	}

	event, err := proto.NewEvent(proto.EventPresenceUpdate, rec)
	if err != nil {
		t.logger.Error("Failed to build presence event", "error", err)
		return
	}
	msg := &proto.DownstreamMessage{PresenceOf: rec.UserID, Event: event}
	if err := t.broadcaster.PublishDownstream(ctx, msg); err != nil {
		t.logger.Warn("Failed to broadcast presence", "user_id", rec.UserID, "error", err)
	}
}
