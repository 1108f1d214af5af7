package connection

import (
	"context"
	"log/slog"
	"time"
)

// IdleReaper 关闭长时间没有任何帧（含心跳）的会话
// 关闭后读循环退出，下线清理走正常断开路径；onIdle 在关闭前调用
type IdleReaper struct {
	sessions *Manager
	timeout  time.Duration
	every    time.Duration
	onIdle   func(conn *Connection)
	logger   *slog.Logger
	clock    func() time.Time
}

func NewIdleReaper(sessions *Manager, timeout, every time.Duration, logger *slog.Logger, onIdle func(conn *Connection)) *IdleReaper {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if every <= 0 {
		every = timeout / 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdleReaper{
		sessions: sessions,
		timeout:  timeout,
		every:    every,
		onIdle:   onIdle,
		logger:   logger.With("component", "idle_reaper"),
		clock:    time.Now,
	}
}

// Run 阻塞直到 ctx 结束
func (r *IdleReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	r.logger.Info("Idle reaper started", "timeout", r.timeout, "every", r.every)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep 执行一轮检查，返回关闭的会话数
func (r *IdleReaper) Sweep() int {
	idle := r.sessions.Idle(r.clock(), r.timeout)
	for _, conn := range idle {
		r.logger.Debug("Closing idle session",
			"conn_id", conn.ID(),
			"user_id", conn.UserID(),
			"device_id", conn.DeviceID(),
			"last_active", conn.LastActiveTime())
		if r.onIdle != nil {
			r.onIdle(conn)
		}
		conn.Close()
	}
	if len(idle) > 0 {
		r.logger.Info("Idle sessions closed", "count", len(idle))
	}
	return len(idle)
}
