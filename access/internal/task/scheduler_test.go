package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testTick = 10 * time.Millisecond

func eventually(t *testing.T, within time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(testTick / 2)
	}
	return cond()
}

func startScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := NewScheduler(workers, testTick, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestWheelAdvance(t *testing.T) {
	w := NewWheel()
	w.Arm(NewTimer("typing:1:2", 2, nil))

	if due := w.Advance(); len(due) != 0 {
		t.Fatalf("第一格不应到期, got %d", len(due))
	}
	due := w.Advance()
	if len(due) != 1 || due[0].Key != "typing:1:2" {
		t.Fatalf("第二格应到期, got %v", due)
	}
	if w.Len() != 0 {
		t.Errorf("到期后应移除, Len = %d", w.Len())
	}
}

func TestWheelRearmPostpones(t *testing.T) {
	w := NewWheel()
	w.Arm(NewTimer("typing:1:2", 1, nil))
	w.Arm(NewTimer("typing:1:2", 3, nil))

	if w.Len() != 1 {
		t.Fatalf("同 key 只保留一个, Len = %d", w.Len())
	}
	for i := 1; i <= 2; i++ {
		if due := w.Advance(); len(due) != 0 {
			t.Fatalf("第 %d 格不应到期", i)
		}
	}
	if due := w.Advance(); len(due) != 1 {
		t.Fatalf("第三格应到期, got %d", len(due))
	}
}

func TestWheelDisarm(t *testing.T) {
	w := NewWheel()
	w.Arm(NewTimer("k", 1, nil))

	if !w.Disarm("k") {
		t.Fatal("Disarm 应返回 true")
	}
	if w.Disarm("k") {
		t.Fatal("重复 Disarm 应返回 false")
	}
	if due := w.Advance(); len(due) != 0 {
		t.Fatal("已取消的定时器不应到期")
	}
}

func TestWheelClampsTicks(t *testing.T) {
	tests := []struct {
		ticks int
		want  int
	}{
		{0, 1},
		{-3, 1},
		{WheelSize + 1, 1},
		{WheelSize, WheelSize},
	}
	for _, tt := range tests {
		w := NewWheel()
		tm := NewTimer("k", tt.ticks, nil)
		w.Arm(tm)
		if tm.Ticks != tt.want {
			t.Errorf("ticks %d clamped to %d, want %d", tt.ticks, tm.Ticks, tt.want)
		}
	}
}

func TestSchedulerLifecycle(t *testing.T) {
	s := NewScheduler(2, testTick, nil)

	if err := s.Schedule("early", 1, nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("未启动时应返回 ErrNotRunning, got %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.IsRunning() {
		t.Error("应处于运行状态")
	}
	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("重复启动应返回 ErrAlreadyRunning, got %v", err)
	}
	if err := s.Schedule("", 1, nil); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("空 key 应返回 ErrEmptyKey, got %v", err)
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("Stop 后不应运行")
	}
	s.Stop()

	// 停止后可以重新启动
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	s.Stop()
}

func TestSchedulerFiresAll(t *testing.T) {
	s := startScheduler(t, 4)

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.Schedule(fmt.Sprintf("typing:%d:1", n), 1+n%3, func(context.Context) error {
				fired.Add(1)
				return nil
			})
		}(i)
	}
	wg.Wait()

	if !eventually(t, time.Second, func() bool { return fired.Load() == 100 }) {
		t.Errorf("fired = %d, want 100", fired.Load())
	}
	if s.Pending() != 0 {
		t.Errorf("Pending = %d", s.Pending())
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := startScheduler(t, 2)

	var fired atomic.Int32
	_ = s.Schedule("typing:9:9", 5, func(context.Context) error {
		fired.Add(1)
		return nil
	})
	if !s.Cancel("typing:9:9") {
		t.Fatal("Cancel 应返回 true")
	}

	time.Sleep(10 * testTick)
	if fired.Load() != 0 {
		t.Error("已取消的回调被执行")
	}
}

func TestSchedulerSurvivesPanicAndError(t *testing.T) {
	s := startScheduler(t, 1)

	var fired atomic.Int32
	_ = s.Schedule("panics", 1, func(context.Context) error {
		fired.Add(1)
		panic("boom")
	})
	_ = s.Schedule("fails", 1, func(context.Context) error {
		fired.Add(1)
		return errors.New("publish failed")
	})
	_ = s.Schedule("ok", 2, func(context.Context) error {
		fired.Add(1)
		return nil
	})

	if !eventually(t, time.Second, func() bool { return fired.Load() == 3 }) {
		t.Errorf("fired = %d, want 3", fired.Load())
	}
}

func BenchmarkWheelAdvance(b *testing.B) {
	w := NewWheel()
	for i := 0; i < 100; i++ {
		w.Arm(NewTimer(fmt.Sprintf("typing:%d:1", i), 1+i%WheelSize, nil))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Advance()
	}
}
