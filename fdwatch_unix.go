// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin || freebsd || netbsd || openbsd

package ioservice

import "syscall"

// rawFD extracts the underlying descriptor from a net.Conn, net.Listener, or
// net.PacketConn, or -1 when the value does not expose one (e.g. net.Pipe in
// tests).
func rawFD(v any) int {
	sc, ok := v.(syscall.Conn)
	if !ok {
		return -1
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = rc.Control(func(f uintptr) { fd = int(f) })
	return fd
}

// watchReadable registers v's descriptor for read readiness; sockets live
// in the read set, while write interest is driven by the outstanding-work
// counter instead. The callback bumps the counter so the tick that observed
// the readiness advances the owning transport or channel. Returns the fd for
// the matching unwatch call, or -1 if v has no descriptor.
func (s *Service) watchReadable(v any) int {
	fd := rawFD(v)
	if fd < 0 {
		return -1
	}
	if err := s.readiness.Register(fd, EventRead, func(IOEvents) { s.bumpWork() }); err != nil {
		logWarn(s.opts.logger, "poll", ChannelIndex{}, "register fd for read readiness failed", err)
		return -1
	}
	return fd
}

// unwatch removes a previously watched descriptor. It must run before the
// socket is closed: the kernel recycles descriptor numbers, and a stale
// table entry would block the next registration of the reused fd.
func (s *Service) unwatch(fd int) {
	if fd < 0 {
		return
	}
	_ = s.readiness.Unregister(fd)
}
