package queue

import (
	"sync"
	"testing"
)

// testItem is a simple struct for testing the generic queue
type testItem struct {
	ID   int
	Name string
}

func TestQueue_New(t *testing.T) {
	q := New[testItem]()
	if q == nil {
		t.Fatal("expected non-nil queue")
	}
	if !q.Empty() {
		t.Error("expected empty queue")
	}
	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
	if q.Full() {
		t.Error("unbounded queue is never full")
	}
}

func TestQueue_Push(t *testing.T) {
	q := New[testItem]()

	q.Push(testItem{ID: 1, Name: "first"})
	if q.Len() != 1 {
		t.Errorf("expected length 1, got %d", q.Len())
	}

	if n := q.Push(testItem{ID: 2}, testItem{ID: 3}); n != 0 {
		t.Errorf("expected no drops, got %d", n)
	}
	if q.Len() != 3 {
		t.Errorf("expected length 3, got %d", q.Len())
	}
}

func TestQueue_Pop(t *testing.T) {
	q := New[testItem]()

	// Pop from empty queue returns zero value
	result := q.Pop()
	if result.ID != 0 || result.Name != "" {
		t.Errorf("expected zero value, got %+v", result)
	}

	q.Push(testItem{ID: 1, Name: "first"}, testItem{ID: 2, Name: "second"})
	first := q.Pop()
	if first.ID != 1 || first.Name != "first" {
		t.Errorf("expected {1, first}, got %+v", first)
	}
	if q.Len() != 1 {
		t.Errorf("expected length 1, got %d", q.Len())
	}
}

func TestQueue_GetAndEmpty(t *testing.T) {
	q := New[testItem]()
	q.Push(testItem{ID: 1}, testItem{ID: 2}, testItem{ID: 3})

	result := q.GetAndEmpty()

	if len(result) != 3 {
		t.Errorf("expected 3 items, got %d", len(result))
	}
	if result[0].ID != 1 || result[1].ID != 2 || result[2].ID != 3 {
		t.Errorf("unexpected items: %+v", result)
	}
	if !q.Empty() {
		t.Error("expected empty queue after GetAndEmpty")
	}
}

func TestQueue_BoundedDropsOldest(t *testing.T) {
	q := NewBounded[int](3)

	q.Push(1, 2)
	if q.Full() {
		t.Error("expected queue not full at 2/3")
	}
	if n := q.Push(3, 4, 5); n != 2 {
		t.Errorf("expected 2 drops, got %d", n)
	}
	if !q.Full() {
		t.Error("expected queue full")
	}
	if q.Dropped() != 2 {
		t.Errorf("expected 2 dropped total, got %d", q.Dropped())
	}

	got := q.GetAndEmpty()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Errorf("expected [3 4 5], got %v", got)
	}
}

func TestQueue_NewBoundedNonPositiveIsUnbounded(t *testing.T) {
	q := NewBounded[int](0)
	for i := 0; i < 1000; i++ {
		q.Push(i)
	}
	if q.Len() != 1000 || q.Dropped() != 0 {
		t.Errorf("expected 1000 items and no drops, got %d/%d", q.Len(), q.Dropped())
	}
}

func TestQueue_Requeue(t *testing.T) {
	q := New[int]()
	q.Push(1, 2)
	taken := q.GetAndEmpty()
	q.Push(3)

	q.Requeue(taken)

	got := q.GetAndEmpty()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("expected [1 2 3], got %v", got)
	}
}

func TestQueue_RequeueRespectsLimit(t *testing.T) {
	q := NewBounded[int](3)
	q.Push(1, 2)
	taken := q.GetAndEmpty()
	q.Push(3, 4)

	q.Requeue(taken)

	got := q.GetAndEmpty()
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Errorf("expected [2 3 4], got %v", got)
	}
	if q.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", q.Dropped())
	}
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[testItem]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.Push(testItem{ID: id})
		}(i)
	}
	wg.Wait()

	if q.Len() != 100 {
		t.Errorf("expected 100 items, got %d", q.Len())
	}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Pop()
		}()
	}
	wg.Wait()

	if q.Len() != 50 {
		t.Errorf("expected 50 items after pops, got %d", q.Len())
	}
}

func TestQueue_ConcurrentGetAndEmpty(t *testing.T) {
	q := New[testItem]()

	for i := 0; i < 100; i++ {
		q.Push(testItem{ID: i})
	}

	var wg sync.WaitGroup
	results := make(chan []testItem, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- q.GetAndEmpty()
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for r := range results {
		total += len(r)
	}
	if total != 100 {
		t.Errorf("expected total 100 items, got %d", total)
	}
}
