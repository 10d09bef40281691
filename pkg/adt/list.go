// Package adt holds the thread-safe containers shared by the scheduler roles.
package adt

import "sync"

type listNode[T any] struct {
	mu   sync.Mutex
	val  T
	next *listNode[T]
}

// List is a singly linked list guarded by per-node locks.
//
// Traversals use lock coupling: the lock of the next node is acquired before
// the lock of the current node is released, so concurrent traversals pipeline
// behind each other and never observe a half-unlinked node. Elements are kept
// by value; callbacks that mutate an element receive a pointer that is only
// valid while the callback runs.
type List[T any] struct {
	head    listNode[T] // sentinel, never holds a value
	cleanup func(T)

	lenMu sync.Mutex
	n     int
}

// NewList returns an empty list. cleanup, when non-nil, is called with every
// element removed by RemoveIf or Clear.
func NewList[T any](cleanup func(T)) *List[T] {
	return &List[T]{cleanup: cleanup}
}

func (l *List[T]) add(d int) {
	l.lenMu.Lock()
	l.n += d
	l.lenMu.Unlock()
}

// Len reports the number of elements. The value may be stale as soon as it
// is returned.
func (l *List[T]) Len() int {
	l.lenMu.Lock()
	defer l.lenMu.Unlock()
	return l.n
}

// PushFront inserts v at the head of the list.
func (l *List[T]) PushFront(v T) {
	n := &listNode[T]{val: v}
	l.head.mu.Lock()
	n.next = l.head.next
	l.head.next = n
	l.head.mu.Unlock()
	l.add(1)
}

// walk visits every node with its lock held. fn returns false to stop; the
// held lock is released either way.
func (l *List[T]) walk(fn func(n *listNode[T]) bool) {
	cur := &l.head
	cur.mu.Lock()
	for next := cur.next; next != nil; next = cur.next {
		next.mu.Lock()
		cur.mu.Unlock()
		cur = next
		if !fn(cur) {
			break
		}
	}
	cur.mu.Unlock()
}

// ForEach calls fn for every element in list order.
func (l *List[T]) ForEach(fn func(v *T)) {
	l.walk(func(n *listNode[T]) bool {
		fn(&n.val)
		return true
	})
}

// FindFirstIf returns a copy of the first element matching pred.
func (l *List[T]) FindFirstIf(pred func(v T) bool) (T, bool) {
	var (
		out   T
		found bool
	)
	l.walk(func(n *listNode[T]) bool {
		if pred(n.val) {
			out, found = n.val, true
			return false
		}
		return true
	})
	return out, found
}

// OperateFirstIf applies action to the first element matching pred while its
// node lock is held. It reports whether a match was found.
func (l *List[T]) OperateFirstIf(pred func(v T) bool, action func(v *T)) bool {
	found := false
	l.walk(func(n *listNode[T]) bool {
		if pred(n.val) {
			action(&n.val)
			found = true
			return false
		}
		return true
	})
	return found
}

// InsertIf inserts v right after the first element matching pred. It reports
// whether an insertion happened.
func (l *List[T]) InsertIf(pred func(v T) bool, v T) bool {
	inserted := false
	l.walk(func(n *listNode[T]) bool {
		if !pred(n.val) {
			return true
		}
		nn := &listNode[T]{val: v, next: n.next}
		n.next = nn
		inserted = true
		return false
	})
	if inserted {
		l.add(1)
	}
	return inserted
}

// RemoveIf unlinks every element matching pred and returns how many were
// removed.
func (l *List[T]) RemoveIf(pred func(v T) bool) int {
	removed := 0
	cur := &l.head
	cur.mu.Lock()
	for next := cur.next; next != nil; next = cur.next {
		next.mu.Lock()
		if pred(next.val) {
			cur.next = next.next
			next.next = nil
			next.mu.Unlock()
			if l.cleanup != nil {
				l.cleanup(next.val)
			}
			removed++
			continue
		}
		cur.mu.Unlock()
		cur = next
	}
	cur.mu.Unlock()
	if removed > 0 {
		l.add(-removed)
	}
	return removed
}

// Clear removes every element.
func (l *List[T]) Clear() int {
	return l.RemoveIf(func(T) bool { return true })
}
