package snowflake

import (
	"sync"
	"testing"
	"time"
)

func TestNewNode_Range(t *testing.T) {
	if _, err := NewNode(-1); err == nil {
		t.Error("expected error for negative node id")
	}
	if _, err := NewNode(1024); err == nil {
		t.Error("expected error for node id above 1023")
	}
	if _, err := NewNode(1023); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGenerate_UniqueAndIncreasing(t *testing.T) {
	node, err := NewNode(3)
	if err != nil {
		t.Fatalf("NewNode: %v", err)
	}

	var last ID
	for i := 0; i < 10000; i++ {
		id := node.Generate()
		if id <= last {
			t.Fatalf("ids must increase: %d after %d", id, last)
		}
		last = id
	}
	if last.Node() != 3 {
		t.Errorf("expected node 3, got %d", last.Node())
	}
	if d := time.Since(last.Time()); d < 0 || d > time.Minute {
		t.Errorf("unexpected id time %v", last.Time())
	}
}

func TestGenerate_Concurrent(t *testing.T) {
	node, _ := NewNode(1)
	var (
		mu   sync.Mutex
		seen = make(map[ID]struct{})
		wg   sync.WaitGroup
	)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := node.Generate()
				mu.Lock()
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestGenerate_ClockBackwards(t *testing.T) {
	node, _ := NewNode(1)
	clock := int64(epoch + 5000)
	node.now = func() int64 { return clock }

	a := node.Generate()
	clock -= 10
	b := node.Generate()
	if b <= a {
		t.Errorf("id must stay monotonic when the clock goes back: %d <= %d", b, a)
	}
}

func TestGenerate_SequenceOverflowBorrowsNextMillisecond(t *testing.T) {
	node, _ := NewNode(2)
	node.now = func() int64 { return epoch + 1000 }

	var last ID
	for i := 0; i <= seqMask+1; i++ {
		id := node.Generate()
		if id <= last {
			t.Fatalf("id %d not greater than %d", id, last)
		}
		last = id
	}
	if got := last.Time().UnixMilli(); got != epoch+1001 {
		t.Errorf("overflow should move to the next millisecond, got %d", got)
	}
	if last.Node() != 2 {
		t.Errorf("node = %d", last.Node())
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("123456789")
	if err != nil || id != 123456789 {
		t.Errorf("ParseID = %d, %v", id, err)
	}
	if id.String() != "123456789" {
		t.Errorf("String() = %q", id.String())
	}
	if _, err := ParseID("abc"); err == nil {
		t.Error("expected error")
	}
}
