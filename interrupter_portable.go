// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build windows || (!linux && !darwin && !freebsd && !netbsd && !openbsd)

package ioservice

// Interrupter on platforms without a usable self-pipe/eventfd primitive: a
// buffered channel standing in for the wakeup descriptor. This module has
// no IOCP backend (readiness_poll.go drives WSAPoll directly on the reactor
// goroutine instead), so there is no completion port to post a wakeup to. A
// channel gives the same semantics the readiness wait needs: FD() has no
// meaning here, so awaitReadiness selects on Armed() directly rather than
// going through the fd table. The one-slot buffer itself coalesces repeated
// wakes — a userspace pending flag would race with Reset's drain and could
// swallow a wake.
type Interrupter struct {
	wake chan struct{}
}

func newInterrupter() (*Interrupter, error) {
	return &Interrupter{wake: make(chan struct{}, 1)}, nil
}

// FD has no meaning on this backend; returns -1. The portable readiness
// backends do not register it in their fd table, they select/poll the
// Armed channel directly.
func (in *Interrupter) FD() int { return -1 }

// Armed exposes the wakeup channel so the portable readiness backends can
// fold it into their wait loop.
func (in *Interrupter) Armed() <-chan struct{} { return in.wake }

func (in *Interrupter) Interrupt() error {
	select {
	case in.wake <- struct{}{}:
	default: // a wake is already pending
	}
	return nil
}

func (in *Interrupter) Reset() {
	select {
	case <-in.wake:
	default:
	}
}

func (in *Interrupter) Close() error {
	return nil
}
