// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ResolveFunc resolves host/port to a set of dialable endpoints. Overriding
// it (WithResolver) replaces the built-in net.Resolver-based
// implementation.
type ResolveFunc func(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error)

// resolveResult is what a background resolution produces for a channel.
// ResolveState itself (READY/DIRTY/IN_PROGRESS/FAILED) lives in state.go
// alongside the other atomic-backed lifecycle enums.
type resolveResult struct {
	endpoints []netip.AddrPort
	err       error
}

// resolver runs DNS lookups on a detached background worker so the reactor
// never blocks. Concurrent identical (host, port) lookups are coalesced
// with singleflight, and successful results are cached for ttl so channels
// sharing a host complete without a fresh lookup until the entry ages out.
type resolver struct {
	fn        ResolveFunc
	ttl       time.Duration // <= 0 disables the cache
	group     singleflight.Group
	interrupt func()

	mu    sync.Mutex
	cache map[string]cachedResolution
}

type cachedResolution struct {
	endpoints []netip.AddrPort
	resolved  time.Time
}

func newResolver(fn ResolveFunc, ttl time.Duration, interrupt func()) *resolver {
	if fn == nil {
		fn = defaultResolveFunc
	}
	return &resolver{fn: fn, ttl: ttl, interrupt: interrupt, cache: make(map[string]cachedResolution)}
}

// defaultResolveFunc resolves through net.DefaultResolver.
func defaultResolveFunc(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.AddrPort{netip.AddrPortFrom(addr, port)}, nil
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return resolveV6Fallback(ctx, host, port)
	}
	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		if addr, ok := netip.AddrFromSlice(ip.To16()); ok {
			out = append(out, netip.AddrPortFrom(addr, port))
		}
	}
	if len(out) == 0 {
		return resolveV6Fallback(ctx, host, port)
	}
	return out, nil
}

// resolveV6Fallback handles IPv6-only networks: when the plain lookup
// fails, retry restricted to AAAA records.
func resolveV6Fallback(ctx context.Context, host string, port uint16) ([]netip.AddrPort, error) {
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip6", host)
	if err != nil || len(ips) == 0 {
		return nil, err
	}
	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		if addr, ok := netip.AddrFromSlice(ip.To16()); ok {
			out = append(out, netip.AddrPortFrom(addr, port))
		}
	}
	return out, nil
}

// startResolve launches a detached resolution for (host, port) and invokes
// done with the result once it completes, from a background goroutine, then
// calls interrupt() so the loop re-evaluates the channel. done must only
// mutate state the caller owns exclusively until the loop observes that the
// in-progress resolve has cleared.
func (r *resolver) startResolve(host string, port uint16, done func(resolveResult)) {
	key := resolveKey(host, port)
	if endpoints, ok := r.cachedEndpoints(key); ok {
		// fresh cache hit: complete without a lookup, still asynchronously
		// so the caller's state machine observes the same sequence either
		// way
		go func() {
			done(resolveResult{endpoints: endpoints})
			if r.interrupt != nil {
				r.interrupt()
			}
		}()
		return
	}
	go func() {
		v, err, _ := r.group.Do(key, func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			endpoints, resolveErr := r.fn(ctx, host, port)
			if resolveErr != nil {
				return nil, resolveErr
			}
			return endpoints, nil
		})

		var result resolveResult
		if err != nil {
			result.err = err
		} else {
			endpoints := v.([]netip.AddrPort)
			result.endpoints = endpoints
			r.mu.Lock()
			r.cache[key] = cachedResolution{endpoints: endpoints, resolved: time.Now()}
			r.mu.Unlock()
		}

		done(result)
		if r.interrupt != nil {
			r.interrupt()
		}
	}()
}

func resolveKey(host string, port uint16) string {
	return host + ":" + strconv.Itoa(int(port))
}

// cachedEndpoints returns the cached endpoint list for key if one exists
// and is still within ttl; stale entries are evicted on the way out.
func (r *resolver) cachedEndpoints(key string) ([]netip.AddrPort, bool) {
	if r.ttl <= 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.resolved) >= r.ttl {
		delete(r.cache, key)
		return nil, false
	}
	return entry.endpoints, true
}
