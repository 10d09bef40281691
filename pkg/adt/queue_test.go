package adt

import (
	"sync"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue[int]()
	if !q.Empty() {
		t.Fatalf("new queue not empty")
	}
	if _, ok := q.TryPop(); ok {
		t.Fatalf("try_pop on empty queue succeeded")
	}
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Fatalf("pop %d: got %d ok=%v", i, v, ok)
		}
	}
	if !q.Empty() {
		t.Fatalf("queue not empty after draining")
	}
}

func TestQueueWaitAndPopBlocks(t *testing.T) {
	t.Parallel()

	q := NewQueue[string]()
	got := make(chan string, 1)
	go func() { got <- q.WaitAndPop() }()

	select {
	case v := <-got:
		t.Fatalf("returned %q before push", v)
	case <-time.After(30 * time.Millisecond):
	}

	q.Push("block")
	select {
	case v := <-got:
		if v != "block" {
			t.Fatalf("got %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter not woken")
	}
}

func TestQueueProducersConsumers(t *testing.T) {
	t.Parallel()

	const producers, per = 4, 500
	q := NewQueue[int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				q.Push(p*per + i)
			}
		}(p)
	}

	seen := make([]bool, producers*per)
	var mu sync.Mutex
	var cw sync.WaitGroup
	for c := 0; c < 4; c++ {
		cw.Add(1)
		go func() {
			defer cw.Done()
			for i := 0; i < per; i++ {
				v := q.WaitAndPop()
				mu.Lock()
				if seen[v] {
					t.Errorf("value %d delivered twice", v)
				}
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	cw.Wait()
	for i, ok := range seen {
		if !ok {
			t.Fatalf("value %d lost", i)
		}
	}
}
