// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"errors"
	"sync/atomic"
)

// Sentinel errors for API misuse detectable synchronously: return an
// error, don't panic.
var (
	errAlreadyRunning     = errors.New("ioservice: service already running")
	errLoopThread         = errors.New("ioservice: Stop called from the reactor goroutine")
	errUnknownChannel     = errors.New("ioservice: unknown or stale channel handle")
	errUnknownTransport   = errors.New("ioservice: unknown or stale transport handle")
	errChannelNotClosed   = errors.New("ioservice: channel is already open")
	errInvalidChannelKind = errors.New("ioservice: kind must combine exactly one of ChannelClient/ChannelServer with exactly one of ChannelTCP/ChannelUDP")
	errClientPortZero     = errors.New("ioservice: client channel endpoint has port 0")
)

// Endpoint is the user-facing {host, port} pair a channel is configured
// from. A server channel interprets Port as its local bind port and ignores
// Host; a client channel dials Host:Port.
type Endpoint struct {
	Host string
	Port uint16
}

// Service is the reactor: one configured set of channels, driven by a
// single goroutine. All I/O is non-blocking; the only blocking call in the
// loop is the readiness wait, bounded by the next timer.
type Service struct {
	outstandingWork atomic.Int32
	state           *atomicState

	timers      *timerQueue
	readiness   *ReadinessSet
	interrupter *Interrupter
	resolver    *resolver
	dispatcher  *eventDispatcher

	channels       *slotArena[*channel]
	transports     *slotArena[*transport]
	channelHandles []ChannelIndex

	opts *options

	loopGoroutineID atomic.Uint64
	doneCh          chan struct{}
}

// NewService constructs a Service with one channel per endpoint but does
// not start its reactor goroutine — call Start. Channels begin closed; Open
// activates them. With a nil onEvent, inline events are discarded and
// deferred events stay queued: DispatchEvents delivers none of them.
func NewService(endpoints []Endpoint, onEvent func(Event), opts ...Option) (*Service, error) {
	o := resolveOptions(opts)

	interrupter, err := newInterrupter()
	if err != nil {
		return nil, wrapf("ioservice: create interrupter", err)
	}

	readiness, err := newReadinessSet()
	if err != nil {
		_ = interrupter.Close()
		return nil, wrapf("ioservice: create readiness set", err)
	}

	s := &Service{
		state:       newAtomicState(uint32(ServiceCreated)),
		readiness:   readiness,
		interrupter: interrupter,
		channels:    newSlotArena[*channel](),
		transports:  newSlotArena[*transport](),
		opts:        o,
		doneCh:      make(chan struct{}),
	}
	s.timers = newTimerQueue(s.interrupt)
	s.resolver = newResolver(o.resolverOverride, o.dnsCacheTimeout, s.interrupt)
	s.dispatcher = newEventDispatcher(o.deferredEvent, onEvent)

	if fd := s.interrupter.FD(); fd >= 0 {
		if err := s.readiness.Register(fd, EventRead, func(IOEvents) {}); err != nil {
			_ = s.readiness.Close()
			_ = s.interrupter.Close()
			return nil, wrapf("ioservice: register interrupter", err)
		}
	}

	for _, ep := range endpoints {
		index, generation := s.channels.insert(nil)
		handle := ChannelIndex{index: index, generation: generation}
		ch := newChannel(handle, 0, ep.Host, ep.Port, 0, o.framing, nil)
		s.channels.update(index, generation, func(p **channel) { *p = ch })
		s.channelHandles = append(s.channelHandles, handle)
	}

	return s, nil
}

// Channel returns the handle of the i'th endpoint passed to NewService, or
// the zero (invalid) handle if i is out of range.
func (s *Service) Channel(i int) ChannelIndex {
	if i < 0 || i >= len(s.channelHandles) {
		return ChannelIndex{}
	}
	return s.channelHandles[i]
}

// Start launches the reactor goroutine (or, with WithNoWorkerThread, runs
// the loop synchronously on the calling goroutine until Stop). Returns
// errAlreadyRunning if called more than once.
func (s *Service) Start() error {
	if !s.state.CompareAndSwap(uint32(ServiceCreated), uint32(ServiceRunning)) {
		return errAlreadyRunning
	}
	if s.opts.noWorkerThread {
		s.run()
		return nil
	}
	go s.run()
	return nil
}

// Stop requests the reactor to exit and blocks until cleanup completes.
// Idempotent: a second call observes the loop already stopped and returns
// nil immediately. Calling Stop from the reactor goroutine itself (e.g.
// from inside an event callback) returns errLoopThread rather than
// deadlocking.
func (s *Service) Stop() error {
	if s.isLoopThread() {
		return errLoopThread
	}
	for {
		cur := ServiceState(s.state.Load())
		switch cur {
		case ServiceCreated:
			if s.state.CompareAndSwap(uint32(ServiceCreated), uint32(ServiceStopped)) {
				close(s.doneCh)
				return nil
			}
		case ServiceStopped:
			return nil
		default:
			s.requestStop()
			<-s.doneCh
			return nil
		}
	}
}

// isLoopThread reports whether the calling goroutine is the reactor
// goroutine.
func (s *Service) isLoopThread() bool {
	id := s.loopGoroutineID.Load()
	return id != 0 && id == currentGoroutineID()
}

// Open activates a channel and requests that the reactor begin
// resolving/connecting/listening on its next tick. kind combines exactly
// one of ChannelClient/ChannelServer with exactly one of
// ChannelTCP/ChannelUDP; a UDP server is rejected on Windows with a logged
// error (a platform limitation, exposed rather than emulated). Safe from
// any goroutine.
func (s *Service) Open(handle ChannelIndex, kind ChannelKind, opts ...ChannelOption) error {
	if kind.isClient() == kind.isServer() || kind.isTCP() == kind.isUDP() {
		return errInvalidChannelKind
	}
	ch, ok := s.channels.get(handle.index, handle.generation)
	if !ok || ch == nil {
		return errUnknownChannel
	}
	if isWindowsUDPServerRejected(kind) {
		logError(s.opts.logger, "channel", handle, "udp server channel rejected", errUDPServerUnsupportedOnWindows)
		return errUDPServerUnsupportedOnWindows
	}
	if !ch.state.CompareAndSwap(uint32(ChannelClosed), uint32(ChannelRequestOpen)) {
		return errChannelNotClosed
	}

	co := resolveChannelOptions(s.opts.framing, opts)
	ch.mu.Lock()
	ch.kind = kind
	ch.localPort = co.localPort
	if co.framing != nil {
		ch.framing = *co.framing
	}
	ch.decoder = co.decoder
	ch.lastError = nil
	ch.resolveErr = nil
	switch {
	case kind.isClient() && ch.port == 0:
		ch.resolveState = ResolveFailed
		ch.resolveErr = errClientPortZero
	case kind.isServer():
		ch.resolveState = ResolveReady // servers bind locally, nothing to resolve
	default:
		if _, literal := literalHostEndpoint(ch.host, ch.port); literal {
			ch.resolveState = ResolveReady
		} else if ch.resolveState != ResolveReady {
			ch.endpoints = nil
			ch.resolveState = ResolveDirty
		}
	}
	ch.mu.Unlock()

	s.interrupt()
	return nil
}

// SetEndpoint replaces a channel's remote host/port; the new endpoint
// takes effect on the next Open. Safe from any goroutine.
func (s *Service) SetEndpoint(handle ChannelIndex, host string, port uint16) error {
	ch, ok := s.channels.get(handle.index, handle.generation)
	if !ok || ch == nil {
		return errUnknownChannel
	}
	ch.mu.Lock()
	ch.host = host
	ch.port = port
	ch.endpoints = nil
	ch.resolveErr = nil
	ch.resolveState = ResolveDirty
	ch.mu.Unlock()
	s.interrupt()
	return nil
}

// CloseChannel returns a channel to CLOSED: cancels any pending reconnect
// timer, closes its listening/client socket, and closes its live
// transport(s), each emitting one CONNECTION_LOST. The channel stays
// registered and may be opened again.
func (s *Service) CloseChannel(handle ChannelIndex) error {
	ch, ok := s.channels.get(handle.index, handle.generation)
	if !ok || ch == nil {
		return errUnknownChannel
	}
	ch.setState(ChannelClosed)
	ch.mu.Lock()
	timer := ch.connectTimer
	ch.connectTimer = nil
	listener := ch.listener
	listenerPC := ch.listenerPC
	listenerFD := ch.listenerFD
	clientSocket := ch.clientSocket
	ch.listener = nil
	ch.listenerPC = nil
	ch.listenerFD = -1
	ch.clientSocket = nil
	clientTransport := ch.transport
	ch.transport = TransportHandle{}
	sessions := make([]TransportHandle, 0, len(ch.udpPeers))
	for _, th := range ch.udpPeers {
		sessions = append(sessions, th)
	}
	ch.udpPeers = nil
	ch.mu.Unlock()

	if timer != nil {
		timer.Cancel()
	}
	s.unwatch(listenerFD)
	if listener != nil {
		_ = listener.Close()
	}
	if listenerPC != nil {
		_ = listenerPC.Close()
	}
	if clientSocket != nil {
		_ = clientSocket.Close()
	}
	if clientTransport.Valid() {
		s.closeTransportInternal(clientTransport, ErrNone, nil, false)
	}
	for _, th := range sessions {
		s.closeTransportInternal(th, ErrNone, nil, false)
	}
	s.interrupt()
	return nil
}

// CloseTransport closes one live transport and emits CONNECTION_LOST with
// ErrNone (a caller-requested close, not a failure). A user-requested close
// never triggers the reconnect policy.
func (s *Service) CloseTransport(handle TransportHandle) error {
	if _, ok := s.transports.get(handle.index, handle.generation); !ok {
		return errUnknownTransport
	}
	s.closeTransportInternal(handle, ErrNone, nil, false)
	s.interrupt()
	return nil
}

// Write enqueues data for asynchronous delivery on the given transport. It
// never blocks, and a runtime send failure or timeout surfaces later as
// CONNECTION_LOST — delivery is fire-and-forget; the returned error reports
// only the synchronously detectable misuse of a stale or unknown handle.
func (s *Service) Write(handle TransportHandle, data []byte) error {
	t, ok := s.transports.get(handle.index, handle.generation)
	if !ok || t == nil {
		return errUnknownTransport
	}
	t.enqueueSend(data, s.opts.sendTimeout, nil)
	s.bumpWork()
	s.interrupt()
	return nil
}

// NewTimer creates a Timer bound to this Service's reactor. Scheduling and
// cancellation are safe from any goroutine; the callback always runs on the
// reactor goroutine.
func (s *Service) NewTimer() *Timer {
	return s.timers.NewTimer()
}

// DispatchEvents drains up to maxN queued events to the callback installed
// at construction. maxN <= 0 means unbounded.
// Only meaningful with WithDeferredEvents(true); a no-op otherwise, since
// inline delivery already ran the callback at emit time.
func (s *Service) DispatchEvents(maxN int) int {
	return s.dispatcher.dispatch(maxN)
}

// PendingEvents reports the number of queued-but-undelivered deferred
// events.
func (s *Service) PendingEvents() int {
	return s.dispatcher.pending()
}

// Done returns a channel closed once the reactor goroutine has fully exited
// and cleanup has run, for callers that started the Service with
// WithNoWorkerThread and want another goroutine to observe completion.
func (s *Service) Done() <-chan struct{} {
	return s.doneCh
}

// State reports the Service's own lifecycle state.
func (s *Service) State() ServiceState {
	return ServiceState(s.state.Load())
}

// channelCount and transportCount support tests and diagnostics without
// exposing the arenas themselves.
func (s *Service) channelCount() int   { return s.channels.len() }
func (s *Service) transportCount() int { return s.transports.len() }

// approxQueuedSends is a diagnostic helper: sums the send-queue depth of
// every live transport. Not part of the public contract, used by
// service_test.go to assert backpressure accounting.
func (s *Service) approxQueuedSends() int {
	total := 0
	s.transports.each(func(_, _ uint32, t *transport) {
		total += t.sendQueueDepth()
	})
	return total
}
