// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin || freebsd || netbsd || openbsd

package ioservice

import "time"

// awaitReadiness blocks on the epoll/kqueue backend, which has the
// Interrupter's real descriptor permanently registered in its read set — a
// single syscall covers both socket readiness and cross-thread wakeup.
func (s *Service) awaitReadiness(timeout time.Duration) (int, error) {
	return s.readiness.Wait(timeout)
}
