// Package typing 输入状态指示
//
// 每次 typing-start 都会在时间轮上（重新）登记一个过期任务，
// 若在过期前没有收到 typing-stop，指示自动清除，避免断线后一直显示"正在输入"。
package typing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/incyashraj/ParkShare-sub000/access/internal/task"
	"github.com/incyashraj/ParkShare-sub000/shared/proto"
)

// Broadcaster 下行广播
type Broadcaster interface {
	PublishDownstream(ctx context.Context, msg *proto.DownstreamMessage) error
}

type key struct {
	conversationID int64
	userID         int64
}

// Registry 输入状态登记表
type Registry struct {
	scheduler   *task.Scheduler
	broadcaster Broadcaster
	expireTicks int
	active      map[key]uint64 // -> 版本号，过期任务只清除自己登记的版本
	seq         uint64
	logger      *slog.Logger
	mu          sync.Mutex
}

// NewRegistry expireTicks 为过期前的时间轮 tick 数
func NewRegistry(scheduler *task.Scheduler, broadcaster Broadcaster, expireTicks int, logger *slog.Logger) *Registry {
	if expireTicks <= 0 || expireTicks > task.WheelSize {
		expireTicks = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		scheduler:   scheduler,
		broadcaster: broadcaster,
		expireTicks: expireTicks,
		active:      make(map[key]uint64),
		logger:      logger.With("component", "TypingRegistry"),
	}
}

func taskID(k key) string {
	return fmt.Sprintf("typing:%d:%d", k.conversationID, k.userID)
}

// Start 开始输入（重复调用会顺延过期时间）
func (r *Registry) Start(ctx context.Context, conversationID, userID int64) error {
	k := key{conversationID: conversationID, userID: userID}

	r.mu.Lock()
	_, wasActive := r.active[k]
	r.seq++
	version := r.seq
	r.active[k] = version
	r.mu.Unlock()

	err := r.scheduler.Schedule(taskID(k), r.expireTicks, func(ctx context.Context) error {
		r.expire(ctx, k, version)
		return nil
	})
	if err != nil {
		r.mu.Lock()
		if r.active[k] == version {
			delete(r.active, k)
		}
		r.mu.Unlock()
		return err
	}

	if !wasActive {
		r.publish(ctx, k, true)
	}
	return nil
}

// Stop 停止输入
func (r *Registry) Stop(ctx context.Context, conversationID, userID int64) {
	k := key{conversationID: conversationID, userID: userID}

	r.mu.Lock()
	_, ok := r.active[k]
	delete(r.active, k)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.scheduler.Cancel(taskID(k))
	r.publish(ctx, k, false)
}

// ClearUser 清除用户在所有会话中的输入状态（最后一个连接断开时）
func (r *Registry) ClearUser(ctx context.Context, userID int64) {
	r.mu.Lock()
	var cleared []key
	for k := range r.active {
		if k.userID == userID {
			cleared = append(cleared, k)
		}
	}
	for _, k := range cleared {
		delete(r.active, k)
	}
	r.mu.Unlock()

	for _, k := range cleared {
		r.scheduler.Cancel(taskID(k))
		r.publish(ctx, k, false)
	}
}

// Typing 会话中正在输入的用户
func (r *Registry) Typing(conversationID int64) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var users []int64
	for k := range r.active {
		if k.conversationID == conversationID {
			users = append(users, k.userID)
		}
	}
	return users
}

func (r *Registry) expire(ctx context.Context, k key, version uint64) {
	r.mu.Lock()
	current, ok := r.active[k]
	if !ok || current != version {
		r.mu.Unlock()
		return
	}
	delete(r.active, k)
	r.mu.Unlock()

	r.logger.Debug("Typing indicator expired", "conversation_id", k.conversationID, "user_id", k.userID)
	r.publish(ctx, k, false)
}

func (r *Registry) publish(ctx context.Context, k key, typing bool) {
	if r.broadcaster == nil {
		return
	}
	event, err := proto.NewEvent(proto.EventTypingIndicator, &proto.TypingIndicator{
		ConversationID: k.conversationID,
		UserID:         k.userID,
		Typing:         typing,
	})
	if err != nil {
		r.logger.Error("Failed to build typing event", "error", err)
		return
	}
	msg := &proto.DownstreamMessage{ConversationID: k.conversationID, Event: event}
	if err := r.broadcaster.PublishDownstream(ctx, msg); err != nil {
		r.logger.Warn("Failed to broadcast typing indicator", "error", err)
	}
}
