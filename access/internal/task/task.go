package task

import (
	"context"
	"hash/fnv"
	"time"
)

// Func 到期回调
type Func func(ctx context.Context) error

// Timer 一次性到期回调，按 Key 去重
type Timer struct {
	Key      string
	Ticks    int // 距到期的 tick 数，取值 1..WheelSize
	Fn       Func
	ArmedAt  time.Time
	deadline int // 所在槽位
}

// NewTimer 创建定时器
func NewTimer(key string, ticks int, fn Func) *Timer {
	return &Timer{Key: key, Ticks: ticks, Fn: fn, ArmedAt: time.Now()}
}

func (t *Timer) fire(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx)
}

// shard 同一 Key 的回调固定落在同一个 worker 上
func (t *Timer) shard() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(t.Key))
	return int64(h.Sum64() >> 1)
}
