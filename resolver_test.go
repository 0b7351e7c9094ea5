// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"context"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolver_LiteralHostFastPath(t *testing.T) {
	ep, ok := literalHostEndpoint("127.0.0.1", 9000)
	if !ok {
		t.Fatal("literalHostEndpoint should recognize a dotted-quad as literal")
	}
	if ep.Port() != 9000 || ep.Addr().String() != "127.0.0.1" {
		t.Fatalf("endpoint = %v, want 127.0.0.1:9000", ep)
	}

	if _, ok := literalHostEndpoint("example.com", 80); ok {
		t.Fatal("literalHostEndpoint should reject a non-literal hostname")
	}
}

func TestResolver_StartResolveDeliversResult(t *testing.T) {
	var calls atomic.Int32
	fn := ResolveFunc(func(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
		calls.Add(1)
		return []netip.AddrPort{netip.MustParseAddrPort("10.0.0.1:1234")}, nil
	})

	var interrupted atomic.Int32
	r := newResolver(fn, time.Minute, func() { interrupted.Add(1) })

	done := make(chan resolveResult, 1)
	r.startResolve("example.com", 1234, func(res resolveResult) { done <- res })

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		if len(res.endpoints) != 1 || res.endpoints[0].String() != "10.0.0.1:1234" {
			t.Fatalf("endpoints = %v, want [10.0.0.1:1234]", res.endpoints)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for startResolve to complete")
	}

	if interrupted.Load() == 0 {
		t.Fatal("expected interrupt() to be called after resolution completes")
	}

	// a second resolve within the ttl must be served from the cache
	done2 := make(chan resolveResult, 1)
	r.startResolve("example.com", 1234, func(res resolveResult) { done2 <- res })
	select {
	case res := <-done2:
		if res.err != nil || len(res.endpoints) != 1 {
			t.Fatalf("cached resolve = %v,%v want the cached endpoint", res.endpoints, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the cached resolve to complete")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("resolve function called %d times, want 1 (second lookup served from cache)", got)
	}
}

func TestResolver_CacheExpiresAfterTTL(t *testing.T) {
	var calls atomic.Int32
	fn := ResolveFunc(func(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
		calls.Add(1)
		return []netip.AddrPort{netip.MustParseAddrPort("10.0.0.3:53")}, nil
	})
	r := newResolver(fn, 10*time.Millisecond, nil)

	resolveOnce := func() {
		t.Helper()
		done := make(chan resolveResult, 1)
		r.startResolve("ttl.example.com", 53, func(res resolveResult) { done <- res })
		select {
		case res := <-done:
			if res.err != nil {
				t.Fatalf("unexpected error: %v", res.err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for resolve")
		}
	}

	resolveOnce()
	time.Sleep(20 * time.Millisecond)
	resolveOnce()

	if got := calls.Load(); got != 2 {
		t.Fatalf("resolve function called %d times, want 2 (entry expired between resolves)", got)
	}
}

func TestResolver_SingleflightDedupesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	fn := ResolveFunc(func(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
		calls.Add(1)
		<-release
		return []netip.AddrPort{netip.MustParseAddrPort("10.0.0.2:80")}, nil
	})

	r := newResolver(fn, time.Minute, nil)

	const n = 5
	results := make(chan resolveResult, n)
	for i := 0; i < n; i++ {
		r.startResolve("dup.example.com", 80, func(res resolveResult) { results <- res })
	}

	time.Sleep(20 * time.Millisecond) // let all n goroutines reach group.Do
	close(release)

	for i := 0; i < n; i++ {
		select {
		case res := <-results:
			if res.err != nil {
				t.Fatalf("unexpected error: %v", res.err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a dedup'd resolve to complete")
		}
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("resolve function called %d times, want exactly 1 (singleflight dedup)", got)
	}
}

func TestResolver_PropagatesError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	fn := ResolveFunc(func(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
		return nil, wantErr
	})
	r := newResolver(fn, time.Minute, nil)

	done := make(chan resolveResult, 1)
	r.startResolve("unreachable.example.com", 443, func(res resolveResult) { done <- res })

	select {
	case res := <-done:
		if res.err != wantErr {
			t.Fatalf("err = %v, want %v", res.err, wantErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}

	if _, ok := r.cachedEndpoints(resolveKey("unreachable.example.com", 443)); ok {
		t.Fatal("a failed resolution should not populate the cache")
	}
}
