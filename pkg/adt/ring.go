package adt

import (
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Ring.TimedPop when nothing arrived in time.
var ErrTimeout = errors.New("adt: timed out")

// Ring is a fixed-capacity FIFO that overwrites its oldest element when a
// push finds it full.
type Ring[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	buf   []T
	get   int
	put   int
	count int
}

// NewRing returns a ring holding up to size elements. size below 1 is
// treated as 1.
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	r := &Ring[T]{buf: make([]T, size)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *Ring[T]) Cap() int { return len(r.buf) }

// Push stores v. When the ring is full the oldest element is dropped.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	r.buf[r.put] = v
	r.put = (r.put + 1) % len(r.buf)
	if r.count == len(r.buf) {
		r.get = r.put
	} else {
		r.count++
	}
	r.mu.Unlock()
	r.cond.Signal()
}

func (r *Ring[T]) popLocked() T {
	v := r.buf[r.get]
	var zero T
	r.buf[r.get] = zero
	r.get = (r.get + 1) % len(r.buf)
	r.count--
	return v
}

// Pop blocks until an element is available.
func (r *Ring[T]) Pop() T {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.count == 0 {
		r.cond.Wait()
	}
	return r.popLocked()
}

// TimedPop waits at most timeout for an element.
func (r *Ring[T]) TimedPop(timeout time.Duration) (T, error) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.count == 0 {
		if !time.Now().Before(deadline) {
			var zero T
			return zero, ErrTimeout
		}
		r.cond.Wait()
	}
	return r.popLocked(), nil
}

func (r *Ring[T]) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count == 0
}

func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
