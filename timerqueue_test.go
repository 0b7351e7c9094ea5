// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"testing"
	"time"
)

func TestTimerQueue_FireOrder(t *testing.T) {
	var interrupts int
	q := newTimerQueue(func() { interrupts++ })

	var fired []int
	mk := func(id int, d time.Duration) *Timer {
		timer := q.NewTimer()
		timer.ExpiresFromNow(d)
		timer.AsyncWait(func(cancelled bool) {
			if !cancelled {
				fired = append(fired, id)
			}
		})
		return timer
	}

	mk(3, 30*time.Millisecond)
	mk(1, 10*time.Millisecond)
	mk(2, 20*time.Millisecond)

	if interrupts == 0 {
		t.Fatal("expected schedule to interrupt at least once for the earliest timer")
	}

	q.fireExpired(time.Now().Add(time.Hour))

	if got := fired; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", got)
	}
}

func TestTimerQueue_CancelBeforeFire(t *testing.T) {
	q := newTimerQueue(nil)

	var cancelledSeen bool
	timer := q.NewTimer()
	timer.ExpiresFromNow(time.Hour)
	timer.AsyncWait(func(cancelled bool) { cancelledSeen = cancelled })

	timer.Cancel()

	if !cancelledSeen {
		t.Fatal("expected Cancel to invoke the callback with cancelled=true")
	}

	q.fireExpired(time.Now().Add(2 * time.Hour))
}

func TestTimerQueue_CancelUnknownTimerIsNoop(t *testing.T) {
	q := newTimerQueue(nil)
	timer := q.NewTimer()
	timer.Cancel() // never scheduled; must not panic
}

func TestTimerQueue_RepeatingTimerReschedules(t *testing.T) {
	q := newTimerQueue(nil)

	timer := q.NewTimer()
	timer.deadline = time.Now()
	timer.period = 5 * time.Millisecond
	timer.repeat = true

	var fireCount int
	timer.AsyncWait(func(cancelled bool) {
		if !cancelled {
			fireCount++
		}
	})

	q.fireExpired(time.Now())
	if fireCount != 1 {
		t.Fatalf("fireCount after first fireExpired = %d, want 1", fireCount)
	}

	q.fireExpired(time.Now().Add(10 * time.Millisecond))
	if fireCount != 2 {
		t.Fatalf("fireCount after second fireExpired = %d, want 2", fireCount)
	}
}

func TestTimerQueue_NextWait(t *testing.T) {
	q := newTimerQueue(nil)

	if got := q.nextWait(5 * time.Second); got != 5*time.Second {
		t.Fatalf("nextWait on empty queue = %v, want cap 5s", got)
	}
	if got := q.nextWait(-1); got != -1 {
		t.Fatalf("nextWait(-1) on empty queue = %v, want -1", got)
	}

	timer := q.NewTimer()
	timer.ExpiresFromNow(50 * time.Millisecond)
	timer.AsyncWait(func(bool) {})

	got := q.nextWait(5 * time.Second)
	if got <= 0 || got > 50*time.Millisecond {
		t.Fatalf("nextWait = %v, want in (0, 50ms]", got)
	}
}
