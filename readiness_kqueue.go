// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build darwin || freebsd || netbsd || openbsd

package ioservice

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// maxInitialFDs is the initial capacity of the dynamic fd table; it grows
// on demand up to maxFDLimit.
const (
	maxInitialFDs = 4096
	maxFDLimit    = 100000000
)

var (
	errFDOutOfRange        = errors.New("ioservice: fd out of range")
	errFDAlreadyRegistered = errors.New("ioservice: fd already registered")
	errFDNotRegistered     = errors.New("ioservice: fd not registered")
	errPollerClosed        = errors.New("ioservice: readiness backend closed")
)

type fdInfo struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// kqueueBackend implements readinessBackend using kqueue: dynamically-grown
// fd slice, RWMutex-guarded registration, inline callback dispatch outside
// the lock.
type kqueueBackend struct {
	kq       int32
	eventBuf [256]unix.Kevent_t
	fds      []fdInfo
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func newReadinessBackend() readinessBackend {
	return &kqueueBackend{}
}

func (p *kqueueBackend) Init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	p.fds = make([]fdInfo, maxInitialFDs)
	return nil
}

func (p *kqueueBackend) Close() error {
	p.closed.Store(true)
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

func (p *kqueueBackend) grow(fd int) {
	if fd < len(p.fds) {
		return
	}
	newSize := fd*2 + 1
	if newSize > maxFDLimit {
		newSize = maxFDLimit + 1
	}
	newFds := make([]fdInfo, newSize)
	copy(newFds, p.fds)
	p.fds = newFds
}

func (p *kqueueBackend) Register(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return errPollerClosed
	}
	if fd < 0 || fd >= maxFDLimit {
		return errFDOutOfRange
	}

	p.fdMu.Lock()
	p.grow(fd)
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return errFDAlreadyRegistered
	}
	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(int(p.kq), kevents, nil, nil); err != nil {
			p.fdMu.Lock()
			p.fds[fd] = fdInfo{}
			p.fdMu.Unlock()
			return err
		}
	}
	return nil
}

// Unregister does NOT guarantee immediate cessation of in-flight callbacks:
// dispatch copies the callback under RLock, releases it, then invokes it
// outside the lock, so a callback may still run once after Unregister
// returns. Callers must guard against touching a transport/channel that is
// concurrently being torn down (the arena's generation check does this).
func (p *kqueueBackend) Unregister(fd int) error {
	if fd < 0 {
		return errFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return errFDNotRegistered
	}
	events := p.fds[fd].events
	p.fds[fd] = fdInfo{}
	p.fdMu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) > 0 {
		unix.Kevent(int(p.kq), kevents, nil, nil)
	}
	return nil
}

func (p *kqueueBackend) Modify(fd int, events IOEvents) error {
	if fd < 0 {
		return errFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return errFDNotRegistered
	}
	old := p.fds[fd].events
	p.fds[fd].events = events
	p.fdMu.Unlock()

	if old&^events != 0 {
		unix.Kevent(int(p.kq), eventsToKevents(fd, old&^events, unix.EV_DELETE), nil, nil)
	}
	if events&^old != 0 {
		if _, err := unix.Kevent(int(p.kq), eventsToKevents(fd, events&^old, unix.EV_ADD|unix.EV_ENABLE), nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *kqueueBackend) Wait(timeout time.Duration) (int, error) {
	if p.closed.Load() {
		return 0, errPollerClosed
	}

	var ts *unix.Timespec
	if timeout >= 0 {
		ts = &unix.Timespec{Sec: int64(timeout / time.Second), Nsec: int64(timeout % time.Second)}
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	p.dispatch(n)
	return n, nil
}

func (p *kqueueBackend) dispatch(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}
		p.fdMu.RLock()
		var info fdInfo
		if fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.fdMu.RUnlock()
		if info.active && info.callback != nil {
			info.callback(keventToEvents(&p.eventBuf[i]))
		}
	}
}

func eventsToKevents(fd int, events IOEvents, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if events&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) IOEvents {
	var events IOEvents
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= EventRead
	case unix.EVFILT_WRITE:
		events |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= EventHangup
	}
	return events
}
