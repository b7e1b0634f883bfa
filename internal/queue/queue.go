// Package queue provides the bounded work queues and the worker pool that
// drain them. Queues carry opaque int64 work-item identifiers; what an ID
// means belongs to the processor on the consuming side.
package queue

import "time"

// Queue is a bounded concurrency-safe FIFO of work-item IDs. Two backends
// exist: an in-memory channel queue and a durable SQLite-backed queue. The
// backend is chosen by configuration at startup.
type Queue interface {
	// Enqueue adds an ID without blocking. Returns false when the queue is
	// at capacity; the caller decides what to do with the rejected ID.
	Enqueue(id int64) bool
	// CanAccept is a cheap capacity probe so schedulers can skip a tick
	// entirely under sustained backpressure.
	CanAccept() bool
	// Size returns the current depth, for monitoring only.
	Size() int
	// Poll removes and returns the oldest ID, waiting up to timeout.
	Poll(timeout time.Duration) (int64, bool)
}

// Memory is the channel-backed queue.
type Memory struct {
	ch chan int64
}

// NewMemory creates an in-memory queue with the given capacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 100
	}
	return &Memory{ch: make(chan int64, capacity)}
}

// Enqueue adds an ID, returning false if the queue is full.
func (m *Memory) Enqueue(id int64) bool {
	select {
	case m.ch <- id:
		return true
	default:
		return false
	}
}

// CanAccept reports whether at least one slot is free.
func (m *Memory) CanAccept() bool {
	return len(m.ch) < cap(m.ch)
}

// Size returns the current queue depth.
func (m *Memory) Size() int {
	return len(m.ch)
}

// Poll waits up to timeout for an ID.
func (m *Memory) Poll(timeout time.Duration) (int64, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case id := <-m.ch:
		return id, true
	case <-timer.C:
		return 0, false
	}
}
