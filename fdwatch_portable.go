// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build windows || (!linux && !darwin && !freebsd && !netbsd && !openbsd)

package ioservice

// On the portable backends, per-socket readiness comes from the
// deadline-probe polling performed each tick (see wait_portable.go), not
// from an fd table, so there is nothing to watch or unwatch.

func (s *Service) watchReadable(any) int { return -1 }

func (s *Service) unwatch(int) {}
