// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build windows

package ioservice

import (
	"errors"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Readiness backend for Windows. Rather than a full IOCP proactor, this
// drives WSAPoll directly on the reactor goroutine: it reports per-socket
// readiness without a per-connection watcher goroutine, keeping the
// single-reactor-thread model intact.

var (
	ws2_32      = windows.NewLazySystemDLL("ws2_32.dll")
	procWSAPoll = ws2_32.NewProc("WSAPoll")
)

// WSAPoll event bits (winsock2.h).
const (
	pollRDNORM = int16(0x0100)
	pollWRNORM = int16(0x0010)
	pollERR    = int16(0x0001)
	pollHUP    = int16(0x0002)
)

type wsaPollFD struct {
	Fd      uintptr
	Events  int16
	Revents int16
}

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

// pollBackend implements readinessBackend via WSAPoll, called directly on
// the reactor goroutine — no auxiliary goroutine per socket.
type pollBackend struct {
	mu     sync.Mutex
	regs   map[int]*pollRegistration
	closed bool
}

func newReadinessBackend() readinessBackend {
	return &pollBackend{regs: make(map[int]*pollRegistration)}
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
	fds := make([]wsaPollFD, 0, len(p.regs))
	order := make([]int, 0, len(p.regs))
	for fd, reg := range p.regs {
		var ev int16
		if reg.events&EventRead != 0 {
			ev |= pollRDNORM
		}
		if reg.events&EventWrite != 0 {
			ev |= pollWRNORM
		}
		fds = append(fds, wsaPollFD{Fd: uintptr(fd), Events: ev})
		order = append(order, fd)
	}
	p.mu.Unlock()

	timeoutMs := -1
	if timeout >= 0 {
		timeoutMs = int(timeout / time.Millisecond)
	}

	if len(fds) == 0 {
		if timeoutMs >= 0 {
			time.Sleep(timeout)
		}
		return 0, nil
	}

	n, _, errno := procWSAPoll.Call(
		uintptr(unsafe.Pointer(&fds[0])),
		uintptr(len(fds)),
		uintptr(timeoutMs),
	)
	if int32(n) < 0 {
		return 0, errno
	}

	fired := 0
	p.mu.Lock()
	type dispatchItem struct {
		cb     IOCallback
		events IOEvents
	}
	var items []dispatchItem
	for i, fd := range order {
		if fds[i].Revents == 0 {
			continue
		}
		reg, ok := p.regs[fd]
		if !ok {
			continue
		}
		var events IOEvents
		if fds[i].Revents&pollRDNORM != 0 {
			events |= EventRead
		}
		if fds[i].Revents&pollWRNORM != 0 {
			events |= EventWrite
		}
		if fds[i].Revents&pollERR != 0 {
			events |= EventError
		}
		if fds[i].Revents&pollHUP != 0 {
			events |= EventHangup
		}
		if events == 0 {
			continue
		}
		items = append(items, dispatchItem{cb: reg.callback, events: events})
		fired++
	}
	p.mu.Unlock()

	for _, it := range items {
		if it.cb != nil {
			it.cb(it.events)
		}
	}
	return fired, nil
}
