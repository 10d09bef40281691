package adt

import "sync"

type queueNode[T any] struct {
	val  T
	next *queueNode[T]
}

// Queue is an unbounded FIFO with separate head and tail locks. The tail
// always points at an empty dummy node, so producers and consumers only
// contend when the queue is empty.
type Queue[T any] struct {
	headMu sync.Mutex
	head   *queueNode[T]
	cond   *sync.Cond // signalled on push, bound to headMu

	tailMu sync.Mutex
	tail   *queueNode[T]
}

func NewQueue[T any]() *Queue[T] {
	dummy := &queueNode[T]{}
	q := &Queue[T]{head: dummy, tail: dummy}
	q.cond = sync.NewCond(&q.headMu)
	return q
}

func (q *Queue[T]) getTail() *queueNode[T] {
	q.tailMu.Lock()
	defer q.tailMu.Unlock()
	return q.tail
}

// Push appends v and wakes one waiter.
func (q *Queue[T]) Push(v T) {
	dummy := &queueNode[T]{}
	q.tailMu.Lock()
	q.tail.val = v
	q.tail.next = dummy
	q.tail = dummy
	q.tailMu.Unlock()

	// Taking headMu orders the signal after a waiter's emptiness check.
	q.headMu.Lock()
	q.cond.Signal()
	q.headMu.Unlock()
}

func (q *Queue[T]) popHeadLocked() T {
	old := q.head
	q.head = old.next
	v := old.val
	var zero T
	old.val = zero
	return v
}

// WaitAndPop blocks until an element is available and removes it.
func (q *Queue[T]) WaitAndPop() T {
	q.headMu.Lock()
	defer q.headMu.Unlock()
	for q.head == q.getTail() {
		q.cond.Wait()
	}
	return q.popHeadLocked()
}

// TryPop removes the head element if there is one.
func (q *Queue[T]) TryPop() (T, bool) {
	q.headMu.Lock()
	defer q.headMu.Unlock()
	if q.head == q.getTail() {
		var zero T
		return zero, false
	}
	return q.popHeadLocked(), true
}

// Empty reports whether the queue held no elements at the time of the call.
func (q *Queue[T]) Empty() bool {
	q.headMu.Lock()
	defer q.headMu.Unlock()
	return q.head == q.getTail()
}
