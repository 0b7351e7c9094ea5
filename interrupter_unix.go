// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin || freebsd || netbsd || openbsd

package ioservice

import "golang.org/x/sys/unix"

// Interrupter is a descriptor that becomes readable once interrupted until
// reset, permanently registered in the ReadinessSet's read set so the
// reactor's readiness wait is interruptible from any goroutine.
//
// On Linux this wraps a single eventfd, which serves as both the read and
// write end. On Darwin/BSD it falls back to a non-blocking self-pipe, since
// eventfd is Linux-only.
type Interrupter struct {
	readFD  int
	writeFD int
}

func newInterrupter() (*Interrupter, error) {
	readFD, writeFD, err := createWakeFD()
	if err != nil {
		return nil, err
	}
	return &Interrupter{readFD: readFD, writeFD: writeFD}, nil
}

// FD returns the descriptor to register for read-readiness in the
// ReadinessSet; it is permanently registered for the lifetime of the
// Service.
func (in *Interrupter) FD() int { return in.readFD }

// Armed always returns nil on this backend: the readiness wait observes
// wakeups through the registered fd, not a channel.
func (in *Interrupter) Armed() <-chan struct{} { return nil }

// Interrupt makes the descriptor readable. Safe to call from any goroutine,
// any number of times: the eventfd counter (or a full pipe returning EAGAIN)
// coalesces repeated wakes on its own — a userspace pending flag would race
// with Reset's drain and could swallow a wake.
func (in *Interrupter) Interrupt() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(in.writeFD, buf[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Reset drains the descriptor after the readiness wait reports it
// readable. An interrupt landing after the drain leaves the descriptor
// readable for the next wait.
func (in *Interrupter) Reset() {
	var buf [8]byte
	for {
		_, err := unix.Read(in.readFD, buf[:])
		if err != nil {
			break
		}
	}
}

// Close releases the underlying descriptor(s).
func (in *Interrupter) Close() error {
	if in.readFD >= 0 {
		_ = unix.Close(in.readFD)
	}
	if in.writeFD >= 0 && in.writeFD != in.readFD {
		_ = unix.Close(in.writeFD)
	}
	return nil
}
