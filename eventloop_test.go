// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"errors"
	"net"
	"testing"
)

func TestIsFatalPollError(t *testing.T) {
	if isFatalPollError(nil) {
		t.Fatal("nil should not be a fatal poll error")
	}
	if !isFatalPollError(errPollerClosed) {
		t.Fatal("errPollerClosed must be fatal")
	}
	if isFatalPollError(errors.New("some other error")) {
		t.Fatal("an unrelated error must not be treated as fatal")
	}
}

func TestCurrentGoroutineID_StableWithinGoroutine(t *testing.T) {
	a := currentGoroutineID()
	b := currentGoroutineID()
	if a == 0 {
		t.Fatal("currentGoroutineID() returned 0 on a live goroutine")
	}
	if a != b {
		t.Fatalf("currentGoroutineID() changed within the same goroutine: %d != %d", a, b)
	}

	done := make(chan uint64, 1)
	go func() { done <- currentGoroutineID() }()
	other := <-done
	if other == a {
		t.Fatal("two distinct goroutines reported the same ID")
	}
}

func TestChannelDecoder_DefaultsToLengthPrefixUnlessOverridden(t *testing.T) {
	ch := newChannel(ChannelIndex{}, ChannelClient|ChannelTCP, "127.0.0.1", 0, 0, DefaultFrameConfig(), nil)
	d := channelDecoder(ch)
	if d == nil {
		t.Fatal("channelDecoder should never return nil")
	}
	if n := d([]byte{0, 0, 0, 5}, 4); n != 5 {
		t.Fatalf("default decoder parsed %d, want 5", n)
	}

	custom := FrameDecoder(func([]byte, int) int { return 42 })
	ch2 := newChannel(ChannelIndex{}, ChannelClient|ChannelTCP, "127.0.0.1", 0, 0, DefaultFrameConfig(), custom)
	if got := channelDecoder(ch2)(nil, 0); got != 42 {
		t.Fatalf("custom decoder override not honored, got %d", got)
	}
}

func TestApplyTCPKeepAlive_NoopForNonTCPOrDisabled(t *testing.T) {
	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })

	// net.Pipe's Conn is not a *net.TCPConn, so this must be a safe no-op
	// regardless of the KeepAlive settings passed.
	applyTCPKeepAlive(server, ChannelClient|ChannelTCP, KeepAlive{Idle: 0})
	applyTCPKeepAlive(server, ChannelClient|ChannelUDP, KeepAlive{Idle: 0})
}

func TestIsWindowsUDPServerRejected_OnlyServerUDPCanBeRejected(t *testing.T) {
	// On a non-windows GOOS this is always false regardless of kind; the
	// point of this test is the kind-matching logic, not the GOOS check.
	for _, kind := range []ChannelKind{
		ChannelClient | ChannelTCP,
		ChannelClient | ChannelUDP,
		ChannelServer | ChannelTCP,
	} {
		if isWindowsUDPServerRejected(kind) {
			t.Fatalf("kind %v must never be rejected, only SERVER|UDP can be", kind)
		}
	}
}
