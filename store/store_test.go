package store

import (
	"fmt"
	"sync"
	"testing"
)

func TestPushEvictsOldest(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushes   int
	}{
		{"under capacity", 5, 3},
		{"exactly capacity", 5, 5},
		{"one over", 5, 6},
		{"many over", 5, 23},
		{"capacity one", 1, 4},
		{"default capacity", DefaultCapacity, 450},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New[int](tt.capacity)
			for i := 0; i < tt.pushes; i++ {
				b.Push(i)
				if b.Len() > tt.capacity {
					t.Fatalf("len %d exceeds capacity %d after push %d", b.Len(), tt.capacity, i)
				}
			}
			got := b.Snapshot()
			want := tt.pushes
			if want > tt.capacity {
				want = tt.capacity
			}
			if len(got) != want {
				t.Fatalf("len = %d, want %d", len(got), want)
			}
			first := tt.pushes - want
			for i, v := range got {
				if v != first+i {
					t.Fatalf("snapshot[%d] = %d, want %d (snapshot %v)", i, v, first+i, got)
				}
			}
		})
	}
}

func TestNewClampsCapacity(t *testing.T) {
	b := New[string](0)
	if b.Cap() != 1 {
		t.Fatalf("Cap() = %d, want 1", b.Cap())
	}
	b.Push("a")
	b.Push("b")
	if got := b.Snapshot(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("snapshot = %v, want [b]", got)
	}
}

func TestDuplicatesAreKept(t *testing.T) {
	type entry struct{ user, message string }
	b := New[entry](10)
	e := entry{"alice", "hi"}
	b.Push(e)
	b.Push(e)
	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2; structural duplicates must still be appended", b.Len())
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	snap := b.Snapshot()
	snap[0] = 99
	if got := b.Snapshot()[0]; got != 1 {
		t.Fatalf("mutating snapshot leaked into store: got %d", got)
	}
}

func TestConcurrentPushAndSnapshot(t *testing.T) {
	b := New[string](50)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Push(fmt.Sprintf("%d-%d", w, i))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if n := len(b.Snapshot()); n > 50 {
					t.Errorf("snapshot len %d > capacity", n)
					return
				}
			}
		}()
	}
	wg.Wait()
	if b.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", b.Len())
	}
}
