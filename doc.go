// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package ioservice provides a cross-platform, single-threaded, non-blocking
// socket I/O reactor for building request/response or streaming protocols
// over TCP and UDP.
//
// # Architecture
//
// A [Service] owns a set of channel endpoints (client or server, TCP or UDP),
// identified by opaque [ChannelIndex] handles, and drives them from a single
// reactor loop: a readiness wait over a [ReadinessSet], a timer queue for
// reconnects and caller timers, and an [Interrupter] that wakes the wait
// from any goroutine. Live connections are represented by opaque
// [TransportHandle] values produced by a successful connect or accept; each
// transport frames its inbound byte stream into PDUs via the configured
// [FrameDecoder] and queues outbound PDUs on a FIFO send queue.
//
// # Platform support
//
// Readiness multiplexing is implemented using platform-native mechanisms:
//   - Linux: epoll
//   - Darwin/BSD: kqueue
//   - everything else (including Windows): a portable, `select`-equivalent
//     fallback built on non-blocking deadline probes
//
// # Thread safety
//
// The reactor itself is single-threaded cooperative: all channel/transport
// mutation, framing, and timer firing happen on one goroutine (the one
// spawned by [Service.Start], or the caller's own goroutine when
// [WithNoWorkerThread] is set). [Service.Open], [Service.Write],
// [Service.CloseChannel], [Service.CloseTransport], and [Timer.Cancel] are
// safe to call from any goroutine; each of the Service methods ends by
// interrupting the loop so the mutation is observed promptly.
//
// # Usage
//
//	var svc *ioservice.Service
//	svc, err := ioservice.NewService([]ioservice.Endpoint{{Port: 9000}}, func(ev ioservice.Event) {
//	    switch ev.Kind {
//	    case ioservice.EventRecvPacket:
//	        svc.Write(ev.Transport, ev.Packet) // echo
//	    }
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop()
//
//	if err := svc.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	svc.Open(svc.Channel(0), ioservice.ChannelServer|ioservice.ChannelTCP)
//
// # Error types
//
// Transport and channel failures surface as an [Event]'s Code field, one of
// the [ErrorCode] values, with the typed cause in the Event's Err field:
// one of [ConnectError], [ResolveError], [SendError], [RecvError], or
// [FramingError]. Where there is an underlying OS socket error, the typed
// error unwraps to it for [errors.Is]/[errors.As]; a [FramingError]
// carries only a reason.
package ioservice
