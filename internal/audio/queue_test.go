package audio

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[string](0)
	for _, s := range []string{"c1", "c2", "c3"} {
		if !q.Push(s) {
			t.Fatalf("Push(%s) rejected", s)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Expected length 3, got %d", q.Len())
	}

	for _, want := range []string{"c1", "c2", "c3"} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Errorf("Expected %s, got %s (%v)", want, got, ok)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Expected empty queue")
	}
}

func TestQueue_GrowPreservesOrder(t *testing.T) {
	q := NewQueue[int](0)
	// Offset the read index so growth has to unwrap the ring.
	for i := 0; i < 10; i++ {
		q.Push(-1)
	}
	for i := 0; i < 10; i++ {
		q.Pop()
	}
	for i := 0; i < 100; i++ {
		q.Push(i)
	}

	items := q.Drain()
	if len(items) != 100 {
		t.Fatalf("Expected 100 items, got %d", len(items))
	}
	for i, v := range items {
		if v != i {
			t.Fatalf("item %d: expected %d, got %d", i, i, v)
		}
	}
	if !q.IsEmpty() {
		t.Error("Expected queue to be empty after drain")
	}
}

func TestQueue_Limit(t *testing.T) {
	q := NewQueue[int](3)
	for i := 0; i < 3; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) rejected below limit", i)
		}
	}
	if !q.IsFull() {
		t.Error("Expected queue to be full")
	}
	if q.Push(99) {
		t.Error("Expected push beyond limit to be rejected")
	}

	items := q.Drain()
	if len(items) != 3 || items[2] != 2 {
		t.Errorf("Expected [0 1 2], got %v", items)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue[int](0)
	q.Push(1)
	q.Push(2)
	q.Clear()

	if !q.IsEmpty() {
		t.Error("Expected queue to be empty after clear")
	}
	q.Push(3)
	if v, _ := q.Pop(); v != 3 {
		t.Errorf("Expected 3 after clear, got %d", v)
	}
}

func TestQueue_ConcurrentAccess(t *testing.T) {
	q := NewQueue[int](0)
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()

	if q.Len() != 1000 {
		t.Errorf("Expected 1000 items, got %d", q.Len())
	}
}
