// Package workerpool 固定大小的按 key 分片协程池
// 每个 worker 有独立队列，同一 key 的任务总是落在同一个 worker 上并按提交顺序执行。
// access 以连接 ID 为 key 处理客户端请求，web 以用户 ID 为 key 消费上行消息
package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Task 任务函数
type Task func()

// Pool Worker Pool
type Pool struct {
	queues  []chan Task
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	dropped atomic.Int64
	logger  *slog.Logger
}

// New 创建并启动 Worker Pool，queueSize 为所有 worker 队列的总容量
func New(workers int, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	perWorker := queueSize / workers
	if perWorker < 1 {
		perWorker = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		queues: make([]chan Task, workers),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "workerpool"),
	}

	for i := range pool.queues {
		pool.queues[i] = make(chan Task, perWorker)
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Info("Worker pool started",
		"workers", workers,
		"queue_size", perWorker*workers)

	return pool
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.queues[id]:
			p.run(id, task)
		}
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panic recovered",
				"worker_id", id,
				"panic", r)
		}
	}()
	task()
}

func (p *Pool) queue(key int64) chan Task {
	if key < 0 {
		key = -key
	}
	return p.queues[key%int64(len(p.queues))]
}

// Submit 按 key 提交任务，队列满时阻塞直到有空位或 ctx / 池关闭
func (p *Pool) Submit(ctx context.Context, key int64, task Task) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case <-ctx.Done():
		return false
	case p.queue(key) <- task:
		return true
	}
}

// TrySubmit 尝试提交任务，队列满时立即返回 false
func (p *Pool) TrySubmit(key int64, task Task) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case p.queue(key) <- task:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Dropped 因队列满被拒绝的任务数
func (p *Pool) Dropped() int64 {
	return p.dropped.Load()
}

// Shutdown 停止接收任务并等待 worker 退出，队列中未执行的任务被丢弃
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Worker pool shutdown completed", "dropped", p.dropped.Load())
}
