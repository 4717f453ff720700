// Package internal provides the lock-free changeset inbox used by
// connections.
//
// Features and Guarantees:
//
//   - Lock-Free writes: atomic operations for low latency even when several
//     goroutines deliver concurrently
//   - Unbounded Size: the inbox grows as needed, limited only by memory
//   - Thread-Safe writes: any number of goroutines may Push concurrently
//   - Single Consumer: exactly one goroutine (the owning connection's) may
//     call Drain
//   - FIFO per producer: items from one producer are drained in push order.
//     The object layer serializes all pushes behind the global write lock,
//     which turns this into a total FIFO order.
package internal

import (
	"runtime"
	"sync/atomic"
)

// node represents a single element in the inbox
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Inbox is a lock-free multi-producer single-consumer queue. Unlike a
// channel it never blocks a producer and lets the consumer take everything
// pending in one call, which is exactly the shape changeset delivery needs:
// committers enqueue and move on, the owning connection drains at
// transaction begin.
type Inbox[T any] struct {
	head   *node[T] // consumer-owned sentinel, only touched by Drain
	tail   atomic.Pointer[node[T]]
	closed atomic.Bool
}

// NewInbox creates a new empty inbox.
func NewInbox[T any]() *Inbox[T] {
	sentinel := &node[T]{}

	in := &Inbox[T]{head: sentinel}
	in.tail.Store(sentinel)
	return in
}

// Push adds an item to the inbox.
// Returns true if the item was added, or false if the inbox is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (in *Inbox[T]) Push(value T) bool {
	if in.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}

	var backoff uint8
	for {
		tailNode := in.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			// the tail has no next node yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// CAS on tail may fail if another producer helps out,
				// but tail still converges
				in.tail.CompareAndSwap(tailNode, newNode)
				return true
			}
		} else {
			// help update the tail pointer if another producer has appended
			// a node but hasn't updated the tail yet
			in.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff to avoid all producers retrying in lock-step
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// Drain removes and returns all items currently in the inbox, in push order.
// Returns nil if the inbox is empty.
//
// Thread-safety: Only the single consumer goroutine may call Drain.
func (in *Inbox[T]) Drain() []T {
	var out []T

	for {
		next := in.head.next.Load()
		if next == nil {
			return out
		}

		out = append(out, next.value)

		// advance the sentinel and let the old node be collected
		var zero T
		next.value = zero
		in.head = next
	}
}

// Close closes the inbox, preventing further pushes.
// Items already pushed can still be drained.
func (in *Inbox[T]) Close() {
	in.closed.Store(true)
}

// Len returns an approximate count of the pending items.
// This is O(n) and should only be used for debugging.
func (in *Inbox[T]) Len() int {
	count := 0
	for current := in.head.next.Load(); current != nil; current = current.next.Load() {
		count++
	}
	return count
}
