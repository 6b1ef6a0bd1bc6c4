package refetch

import (
	"fmt"
	"sync"
)

// OverflowPolicy decides what a full Buffer does with a new item.
type OverflowPolicy int

const (
	// DropNewest discards the most recently pushed entry at the back and
	// admits the new item in its place. The oldest unread results are kept.
	// This is the default and is not meant to become DropOldest.
	DropNewest OverflowPolicy = iota
	// DropOldest discards the front item to make room for the new one.
	DropOldest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", int(p))
	}
}

// ParseOverflowPolicy parses "drop_newest" or "drop_oldest".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "drop_newest", "":
		return DropNewest, nil
	case "drop_oldest":
		return DropOldest, nil
	default:
		return DropNewest, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Buffer is a bounded FIFO shared between the fetcher and its consumer.
// All methods are safe for concurrent use.
type Buffer[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	policy   OverflowPolicy
	onDrop   func(T)
}

// NewBuffer creates a Buffer holding at most capacity items.
// A capacity below 1 is raised to 1.
func NewBuffer[T any](capacity int, policy OverflowPolicy) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// OnDrop registers a callback invoked with every item lost to overflow.
// It runs while the buffer is locked and must not call back into it.
func (b *Buffer[T]) OnDrop(cb func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = cb
}

// Push appends item, applying the overflow policy when full so that
// occupancy never exceeds capacity. Item is always admitted; evicted
// reports whether another entry was discarded to make room for it.
func (b *Buffer[T]) Push(item T) (evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) < b.capacity {
		b.items = append(b.items, item)
		return false
	}

	var dropped T
	switch b.policy {
	case DropOldest:
		dropped = b.removeFront()
	default:
		dropped = b.removeBack()
	}
	b.items = append(b.items, item)
	b.dropped(dropped)
	return true
}

// PopFront removes and returns the oldest item.
// ok is false when the buffer is empty.
func (b *Buffer[T]) PopFront() (item T, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) == 0 {
		return item, false
	}
	return b.removeFront(), true
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Policy returns the overflow policy.
func (b *Buffer[T]) Policy() OverflowPolicy {
	return b.policy
}

// Snapshot returns a copy of the buffered items, oldest first.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]T(nil), b.items...)
}

func (b *Buffer[T]) removeFront() T {
	var zero T
	item := b.items[0]
	b.items[0] = zero
	b.items = b.items[1:]
	return item
}

func (b *Buffer[T]) removeBack() T {
	var zero T
	last := len(b.items) - 1
	item := b.items[last]
	b.items[last] = zero
	b.items = b.items[:last]
	return item
}

func (b *Buffer[T]) dropped(item T) {
	if b.onDrop != nil {
		b.onDrop(item)
	}
}
