package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsTasks(t *testing.T) {
	p := New(4, 16, nil)
	defer p.Shutdown()

	var wg sync.WaitGroup
	var n atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		if !p.Submit(context.Background(), int64(i), func() {
			defer wg.Done()
			n.Add(1)
		}) {
			t.Fatal("Submit rejected")
		}
	}
	wg.Wait()
	if n.Load() != 50 {
		t.Errorf("ran %d tasks, want 50", n.Load())
	}
}

func TestPool_SameKeyInOrder(t *testing.T) {
	p := New(8, 256, nil)
	defer p.Shutdown()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(context.Background(), 42, func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	wg.Wait()

	for i := range got {
		if got[i] != i {
			t.Fatalf("task %d ran at position %d", got[i], i)
		}
	}
}

func TestPool_PanicRecovered(t *testing.T) {
	p := New(1, 4, nil)
	defer p.Shutdown()

	done := make(chan struct{})
	p.Submit(context.Background(), 1, func() { panic("boom") })
	p.Submit(context.Background(), 1, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestPool_TrySubmitFull(t *testing.T) {
	p := New(1, 1, nil)
	defer p.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	p.Submit(context.Background(), 1, func() {
		close(started)
		<-block
	})
	<-started
	if !p.TrySubmit(1, func() {}) {
		t.Fatal("queue slot should be free")
	}
	if p.TrySubmit(1, func() {}) {
		t.Fatal("TrySubmit should fail when the queue is full")
	}
	if p.Dropped() != 1 {
		t.Errorf("Dropped = %d", p.Dropped())
	}
	close(block)
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	p := New(1, 1, nil)
	p.Shutdown()
	p.Shutdown()
	if p.Submit(context.Background(), 1, func() {}) {
		t.Error("Submit after Shutdown should be rejected")
	}
}
