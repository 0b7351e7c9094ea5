// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import "testing"

func TestEventDispatcher_InlineDeliversImmediately(t *testing.T) {
	var got []Event
	d := newEventDispatcher(false, func(ev Event) { got = append(got, ev) })

	d.emit(Event{Kind: EventRecvPacket, Packet: []byte("a")})
	d.emit(Event{Kind: EventRecvPacket, Packet: []byte("b")})

	if len(got) != 2 {
		t.Fatalf("inline dispatcher delivered %d events immediately, want 2", len(got))
	}
	if n := d.dispatch(10); n != 0 {
		t.Fatalf("dispatch() on an inline dispatcher = %d, want 0 (no-op)", n)
	}
}

func TestEventDispatcher_DeferredQueuesUntilDispatch(t *testing.T) {
	var delivered []Event
	d := newEventDispatcher(true, func(ev Event) { delivered = append(delivered, ev) })

	d.emit(Event{Kind: EventRecvPacket, Packet: []byte("a")})
	d.emit(Event{Kind: EventRecvPacket, Packet: []byte("b")})
	d.emit(Event{Kind: EventRecvPacket, Packet: []byte("c")})

	if len(delivered) != 0 {
		t.Fatal("deferred dispatcher must not call the callback at emit time")
	}
	if n := d.pending(); n != 3 {
		t.Fatalf("pending() = %d, want 3", n)
	}

	n := d.dispatch(2)
	if n != 2 {
		t.Fatalf("dispatch(2) returned %d, want 2", n)
	}
	if len(delivered) != 2 || string(delivered[0].Packet) != "a" || string(delivered[1].Packet) != "b" {
		t.Fatalf("delivered = %v, want [a b]", delivered)
	}
	if n := d.pending(); n != 1 {
		t.Fatalf("pending() after partial dispatch = %d, want 1", n)
	}
}

func TestEventDispatcher_DeferredFIFOOrder(t *testing.T) {
	var order []string
	d := newEventDispatcher(true, func(ev Event) { order = append(order, string(ev.Packet)) })

	for _, s := range []string{"a", "b", "c"} {
		d.emit(Event{Packet: []byte(s)})
	}

	n := d.dispatch(0) // maxN <= 0 means unbounded
	if n != 3 {
		t.Fatalf("dispatch(0) returned %d, want 3", n)
	}
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("delivery order = %v, want [a b c]", order)
	}
	if d.pending() != 0 {
		t.Fatalf("pending() after full dispatch = %d, want 0", d.pending())
	}
}

func TestEventKind_String(t *testing.T) {
	cases := map[EventKind]string{
		EventConnectResponse: "CONNECT_RESPONSE",
		EventConnectionLost:  "CONNECTION_LOST",
		EventRecvPacket:      "RECV_PACKET",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Fatalf("%v.String() = %q, want %q", kind, got, want)
		}
	}
}
