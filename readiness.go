// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package ioservice: readiness backend selection.
//
// readiness_epoll.go, readiness_kqueue.go and readiness_poll.go each provide
// a platform-specific readinessBackend behind the interface declared here,
// selected at compile time by build tag, so a backend can be swapped without
// touching the loop. No file outside this group is aware of which backend is
// active.
package ioservice

import "time"

// IOEvents is a bitmask of readiness conditions.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
	// EventExcept is the exceptional-condition set. Provisioned in the
	// interface even though no backend currently populates it, so adding
	// one later (e.g. out-of-band data) needs no interface change.
	EventExcept
)

// IOCallback receives the readiness events observed for one fd.
type IOCallback func(IOEvents)

// readinessBackend is the swappable multiplexer implementation. One
// implementation per platform build tag.
type readinessBackend interface {
	Init() error
	Close() error
	Register(fd int, events IOEvents, cb IOCallback) error
	Modify(fd int, events IOEvents) error
	Unregister(fd int) error
	// Wait blocks for up to timeout (negative means unbounded) and dispatches
	// every ready fd's callback inline before returning the count.
	Wait(timeout time.Duration) (int, error)
}

// ReadinessSet is a small facade over the active readinessBackend plus the
// permanently-registered Interrupter descriptor. It is what the event loop
// holds; it has no knowledge of which concrete backend
// (epoll/kqueue/portable-poll) is compiled in.
type ReadinessSet struct {
	backend readinessBackend
}

func newReadinessSet() (*ReadinessSet, error) {
	b := newReadinessBackend()
	if err := b.Init(); err != nil {
		return nil, err
	}
	return &ReadinessSet{backend: b}, nil
}

func (r *ReadinessSet) Register(fd int, events IOEvents, cb IOCallback) error {
	return r.backend.Register(fd, events, cb)
}

func (r *ReadinessSet) Modify(fd int, events IOEvents) error {
	return r.backend.Modify(fd, events)
}

func (r *ReadinessSet) Unregister(fd int) error {
	return r.backend.Unregister(fd)
}

// Wait performs the readiness wait bounded by timeout and dispatches every
// ready descriptor's callback before returning.
func (r *ReadinessSet) Wait(timeout time.Duration) (int, error) {
	return r.backend.Wait(timeout)
}

func (r *ReadinessSet) Close() error {
	return r.backend.Close()
}
