// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"net/netip"
	"testing"
)

func TestChannelKind_Bitmask(t *testing.T) {
	k := ChannelClient | ChannelTCP
	if !k.isClient() || k.isServer() {
		t.Fatalf("kind %v: isClient/isServer mismatch", k)
	}
	if !k.isTCP() || k.isUDP() {
		t.Fatalf("kind %v: isTCP/isUDP mismatch", k)
	}

	k = ChannelServer | ChannelUDP
	if k.isClient() || !k.isServer() {
		t.Fatalf("kind %v: isClient/isServer mismatch", k)
	}
	if k.isTCP() || !k.isUDP() {
		t.Fatalf("kind %v: isTCP/isUDP mismatch", k)
	}
}

func TestChannel_StateTransitions(t *testing.T) {
	ch := newChannel(ChannelIndex{index: 1, generation: 1}, ChannelClient|ChannelTCP, "127.0.0.1", 9000, 0, DefaultFrameConfig(), nil)

	if got := ch.State(); got != ChannelClosed {
		t.Fatalf("initial state = %v, want closed", got)
	}

	transitions := []ChannelState{ChannelRequestOpen, ChannelOpening, ChannelOpened, ChannelClosed}
	for _, want := range transitions {
		ch.setState(want)
		if got := ch.State(); got != want {
			t.Fatalf("setState(%v) then State() = %v", want, got)
		}
	}
}

func TestChannel_NeedsResolve(t *testing.T) {
	literal := newChannel(ChannelIndex{}, ChannelClient|ChannelTCP, "127.0.0.1", 9000, 0, DefaultFrameConfig(), nil)
	if literal.needsResolve() {
		t.Fatal("a literal IP host should not need resolving")
	}

	named := newChannel(ChannelIndex{}, ChannelClient|ChannelTCP, "example.com", 9000, 0, DefaultFrameConfig(), nil)
	if !named.needsResolve() {
		t.Fatal("a hostname should need resolving")
	}
}

func TestDialNetwork(t *testing.T) {
	v4 := netip.MustParseAddr("127.0.0.1")
	v6 := netip.MustParseAddr("::1")

	if got := dialNetwork(ChannelTCP, v4); got != "tcp4" {
		t.Fatalf("dialNetwork(TCP, v4) = %q, want tcp4", got)
	}
	if got := dialNetwork(ChannelUDP, v4); got != "udp4" {
		t.Fatalf("dialNetwork(UDP, v4) = %q, want udp4", got)
	}
	if got := dialNetwork(ChannelTCP, v6); got != "tcp6" {
		t.Fatalf("dialNetwork(TCP, v6) = %q, want tcp6", got)
	}
}

func TestLiteralHostEndpoint(t *testing.T) {
	ep, ok := literalHostEndpoint("192.168.1.1", 443)
	if !ok || ep.Port() != 443 {
		t.Fatalf("literalHostEndpoint = %v,%v want a literal endpoint on port 443", ep, ok)
	}

	if _, ok := literalHostEndpoint("not-an-ip", 443); ok {
		t.Fatal("literalHostEndpoint should reject a hostname")
	}
}
