// Package task 输入状态等短时效状态的到期调度
package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/incyashraj/ParkShare-sub000/shared/workerpool"
)

var (
	ErrNotRunning     = errors.New("scheduler is not running")
	ErrAlreadyRunning = errors.New("scheduler is already running")
	ErrEmptyKey       = errors.New("timer key is empty")
)

// Scheduler 时间轮 + workerpool：tick 协程只负责推进，到期回调交给 worker 执行
type Scheduler struct {
	wheel   *Wheel
	workers int
	tick    time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	pool   *workerpool.Pool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler 创建调度器，tick 为每格时长
func NewScheduler(workers int, tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		wheel:   NewWheel(),
		workers: workers,
		tick:    tick,
		logger:  logger.With("component", "scheduler"),
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return ErrAlreadyRunning
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.pool = workerpool.New(s.workers, s.workers*64, s.logger)
	s.done = make(chan struct{})
	go s.run(s.ctx, s.pool, s.done)

	s.logger.Info("Scheduler started", "tick", s.tick, "workers", s.workers)
	return nil
}

func (s *Scheduler) run(ctx context.Context, pool *workerpool.Pool, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range s.wheel.Advance() {
				if !pool.Submit(ctx, t.shard(), s.fire(ctx, t)) {
					return
				}
			}
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t *Timer) workerpool.Task {
	return func() {
		if err := t.fire(ctx); err != nil {
			s.logger.Warn("Timer callback failed", "key", t.Key, "error", err)
		}
	}
}

// Stop 停止调度器，尚未执行的回调被丢弃
func (s *Scheduler) Stop() {
	s.mu.Lock()
	pool, cancel, done := s.pool, s.cancel, s.done
	s.pool = nil
	s.mu.Unlock()
	if pool == nil {
		return
	}

	cancel()
	<-done
	pool.Shutdown()
	s.logger.Info("Scheduler stopped", "pending", s.wheel.Len())
}

// Schedule 在 ticks 个 tick 后执行 fn；同 key 重复调用会顺延
func (s *Scheduler) Schedule(key string, ticks int, fn Func) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pool == nil {
		return ErrNotRunning
	}
	if key == "" {
		return ErrEmptyKey
	}
	s.wheel.Arm(NewTimer(key, ticks, fn))
	return nil
}

// Cancel 取消定时器，返回是否存在
func (s *Scheduler) Cancel(key string) bool {
	return s.wheel.Disarm(key)
}

// IsRunning 是否运行中
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool != nil
}

// Pending 未到期的定时器数
func (s *Scheduler) Pending() int {
	return s.wheel.Len()
}
