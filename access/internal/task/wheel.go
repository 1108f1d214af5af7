package task

import "sync"

// WheelSize 槽位数，也是单个定时器可延迟的最大 tick 数
const WheelSize = 60

// Wheel 单层时间轮
type Wheel struct {
	mu      sync.Mutex
	buckets [WheelSize]map[string]*Timer
	cursor  int
	armed   map[string]*Timer
}

// NewWheel 创建时间轮
func NewWheel() *Wheel {
	w := &Wheel{armed: make(map[string]*Timer)}
	for i := range w.buckets {
		w.buckets[i] = make(map[string]*Timer)
	}
	return w
}

// Arm 挂上定时器，同 Key 的旧定时器被替换
func (w *Wheel) Arm(t *Timer) {
	if t.Ticks < 1 || t.Ticks > WheelSize {
		t.Ticks = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.armed[t.Key]; ok {
		delete(w.buckets[prev.deadline], t.Key)
	}
	t.deadline = (w.cursor + t.Ticks) % WheelSize
	w.buckets[t.deadline][t.Key] = t
	w.armed[t.Key] = t
}

// Disarm 取消定时器，返回是否存在
func (w *Wheel) Disarm(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.armed[key]
	if !ok {
		return false
	}
	delete(w.armed, key)
	delete(w.buckets[t.deadline], key)
	return true
}

// Advance 前进一格，返回到期的定时器
func (w *Wheel) Advance() []*Timer {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cursor = (w.cursor + 1) % WheelSize
	bucket := w.buckets[w.cursor]
	if len(bucket) == 0 {
		return nil
	}

	due := make([]*Timer, 0, len(bucket))
	for k, t := range bucket {
		due = append(due, t)
		delete(w.armed, k)
	}
	w.buckets[w.cursor] = make(map[string]*Timer)
	return due
}

// Len 已挂定时器数量
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.armed)
}
