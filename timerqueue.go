// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"container/heap"
	"sync"
	"time"
)

// Timer is a caller-owned handle to a scheduled callback. It is shared
// between the caller and the reactor: the caller may Cancel from any
// goroutine, the reactor fires it, and a timer cancelled between fire and
// callback must not run.
type Timer struct {
	queue    *timerQueue
	deadline time.Time
	period   time.Duration
	repeat   bool
	cb       func(cancelled bool)

	mu        sync.Mutex
	cancelled bool
	fired     bool
	heapIndex int // maintained by timerQueue, -1 when not queued
}

// ExpiresFromNow sets the timer to fire d from now. Must be called before
// AsyncWait.
func (t *Timer) ExpiresFromNow(d time.Duration) {
	t.mu.Lock()
	t.deadline = time.Now().Add(d)
	t.mu.Unlock()
}

// AsyncWait schedules cb to run when the timer expires, or with
// cancelled=true if Cancel is called first. Only one pending wait per timer
// is supported.
func (t *Timer) AsyncWait(cb func(cancelled bool)) {
	t.mu.Lock()
	t.cb = cb
	t.cancelled = false
	t.fired = false
	t.mu.Unlock()
	t.queue.schedule(t)
}

// Cancel removes the timer from the queue and invokes its callback with
// cancelled=true synchronously on the caller's goroutine. A no-op if the
// timer is unknown to the queue or has already fired.
func (t *Timer) Cancel() {
	t.queue.cancel(t)
}

// timerQueue is a min-heap of timers by deadline: container/heap keeps the
// earliest at index 0 for O(1) peek and O(log n) schedule/cancel, which
// dominates given typically small queues.
type timerQueue struct {
	mu        sync.Mutex
	heap      timerHeap
	interrupt func()
}

func newTimerQueue(interrupt func()) *timerQueue {
	return &timerQueue{interrupt: interrupt}
}

type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}

// NewTimer creates a Timer bound to this queue but not yet scheduled.
func (q *timerQueue) NewTimer() *Timer {
	return &Timer{queue: q, heapIndex: -1}
}

// schedule inserts t and interrupts the loop if t is now the earliest. A
// timer that is already queued is re-armed: its old entry is removed first,
// so the same timer is never queued twice.
func (q *timerQueue) schedule(t *Timer) {
	q.mu.Lock()
	if t.heapIndex >= 0 {
		// already queued: this is a re-arm, remove the stale entry first.
		heap.Remove(&q.heap, t.heapIndex)
	}
	heap.Push(&q.heap, t)
	earliest := q.heap[0] == t
	q.mu.Unlock()
	if earliest && q.interrupt != nil {
		q.interrupt()
	}
}

// cancel removes t if present and fires its callback with cancelled=true.
// Unknown timers are a silent no-op. The callback runs outside the lock so
// it may re-enter scheduling.
func (q *timerQueue) cancel(t *Timer) {
	t.mu.Lock()
	if t.fired || t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	cb := t.cb
	t.mu.Unlock()

	q.mu.Lock()
	if t.heapIndex >= 0 {
		heap.Remove(&q.heap, t.heapIndex)
	}
	q.mu.Unlock()

	if cb != nil {
		cb(true)
	}
}

// fireExpired pops and fires every timer whose deadline has elapsed,
// re-queuing repeating ones with their deadline advanced by their period.
// Must be called only by the reactor loop. Callbacks run outside the queue
// lock.
func (q *timerQueue) fireExpired(now time.Time) {
	var expired []*Timer
	q.mu.Lock()
	for len(q.heap) > 0 && !q.heap[0].deadline.After(now) {
		t := heap.Pop(&q.heap).(*Timer)
		expired = append(expired, t)
	}
	q.mu.Unlock()

	for _, t := range expired {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			continue
		}
		t.fired = true
		cb := t.cb
		repeat := t.repeat
		period := t.period
		t.mu.Unlock()

		if cb != nil {
			cb(false)
		}

		if repeat {
			t.mu.Lock()
			t.deadline = t.deadline.Add(period)
			t.fired = false
			t.mu.Unlock()
			q.schedule(t)
		}
	}
}

// nextWait returns min(cap, earliest deadline's remaining duration), clamped
// to >= 0. A negative cap means "no cap" (block up to the earliest timer
// only); used by the event loop to compute its readiness-wait timeout.
func (q *timerQueue) nextWait(cap time.Duration) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		if cap < 0 {
			return -1
		}
		return cap
	}
	remaining := q.heap[0].deadline.Sub(time.Now())
	if remaining < 0 {
		remaining = 0
	}
	if cap >= 0 && cap < remaining {
		return cap
	}
	return remaining
}
