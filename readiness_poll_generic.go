// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build !windows && !linux && !darwin && !freebsd && !netbsd && !openbsd

package ioservice

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Fallback readiness backend for the handful of platforms with neither
// epoll, kqueue, nor WSAPoll. It adapts its polling interval to activity
// (grow on idle, shrink on traffic) and probes raw fds directly with a
// non-blocking zero-length-buffer read, rather than spawning one goroutine
// per connection — the reactor must stay single-threaded.
const (
	pollMinInterval = time.Millisecond
	pollMaxInterval = 50 * time.Millisecond
	pollGrowAfter   = 8
)

var (
	errFDOutOfRange        = errors.New("ioservice: fd out of range")
	errFDAlreadyRegistered = errors.New("ioservice: fd already registered")
	errFDNotRegistered     = errors.New("ioservice: fd not registered")
	errPollerClosed        = errors.New("ioservice: readiness backend closed")
)

type pollRegistration struct {
	events   IOEvents
	callback IOCallback
}

type pollBackend struct {
	mu       sync.Mutex
	regs     map[int]*pollRegistration
	closed   bool
	interval time.Duration
	idle     int
}

func newReadinessBackend() readinessBackend {
	return &pollBackend{regs: make(map[int]*pollRegistration), interval: pollMinInterval}
}

func (p *pollBackend) Init() error { return nil }

func (p *pollBackend) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *pollBackend) Register(fd int, events IOEvents, cb IOCallback) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPollerClosed
	}
	if fd < 0 {
		return errFDOutOfRange
	}
	if _, ok := p.regs[fd]; ok {
		return errFDAlreadyRegistered
	}
	p.regs[fd] = &pollRegistration{events: events, callback: cb}
	return nil
}

func (p *pollBackend) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.regs[fd]; !ok {
		return errFDNotRegistered
	}
	delete(p.regs, fd)
	return nil
}

func (p *pollBackend) Modify(fd int, events IOEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	reg, ok := p.regs[fd]
	if !ok {
		return errFDNotRegistered
	}
	reg.events = events
	return nil
}

func (p *pollBackend) Wait(timeout time.Duration) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errPollerClosed
	}
	snapshot := make(map[int]*pollRegistration, len(p.regs))
	for fd, reg := range p.regs {
		snapshot[fd] = reg
	}
	interval := p.interval
	p.mu.Unlock()

	deadline := time.Now().Add(timeout)
	if timeout < 0 {
		deadline = time.Time{}
	}

	var buf [1]byte
	for {
		fired := 0
		for fd, reg := range snapshot {
			var events IOEvents
			if reg.events&EventRead != 0 {
				n, err := unix.Read(fd, buf[:0])
				if err == nil && n >= 0 {
					events |= EventRead
				} else if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
					events |= EventError
				}
			}
			if reg.events&EventWrite != 0 {
				events |= EventWrite
			}
			if events != 0 {
				reg.callback(events)
				fired++
			}
		}
		if fired > 0 {
			p.mu.Lock()
			p.idle = 0
			if p.interval > pollMinInterval {
				p.interval /= 2
				if p.interval < pollMinInterval {
					p.interval = pollMinInterval
				}
			}
			p.mu.Unlock()
			return fired, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, nil
		}
		time.Sleep(interval)
		p.mu.Lock()
		p.idle++
		if p.idle >= pollGrowAfter && p.interval < pollMaxInterval {
			p.idle = 0
			p.interval *= 2
			if p.interval > pollMaxInterval {
				p.interval = pollMaxInterval
			}
		}
		interval = p.interval
		p.mu.Unlock()
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, nil
		}
	}
}
