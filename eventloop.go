// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"runtime"
	"syscall"
	"time"
)

// maxWait bounds the readiness wait when no timer is due sooner.
const maxWait = 5 * time.Minute

// tick runs one iteration of the reactor loop: exchange outstanding work,
// poll readiness with a timer-bounded timeout, advance transports then
// channels, then fire timers. There are no task queues here; the only units
// of work are socket readiness and timer expiry.
func (s *Service) tick() {
	nfds := s.outstandingWork.Swap(0)

	if nfds == 0 {
		wait := s.timers.nextWait(maxWait)
		n, err := s.awaitReadiness(wait)
		if err != nil {
			if isFatalPollError(err) {
				s.requestStop()
				return
			}
			return
		}
		nfds = int32(n)
	}

	// Reset is idempotent; calling it unconditionally covers both the
	// unix fd-based interrupter and the portable channel-based one.
	s.interrupter.Reset()

	s.advanceTransports()
	s.advanceChannels()
	s.timers.fireExpired(time.Now())
}

func isFatalPollError(err error) bool {
	return err == errPollerClosed || errors.Is(err, syscall.EBADF)
}

// advanceTransports drives the read/write path for every live transport.
// transportCloseRequest defers a transport teardown discovered mid-sweep
// until after the full sweep completes, so every transport gets its
// read/write advancement before any CONNECTION_LOST is delivered.
type transportCloseRequest struct {
	handle TransportHandle
	code   ErrorCode
	cause  error
}

func (s *Service) advanceTransports() {
	var toClose []transportCloseRequest

	s.transports.each(func(index, generation uint32, t *transport) {
		handle := TransportHandle{index: index, generation: generation}
		if t.closing {
			return
		}

		rr := t.doRead()
		for _, frame := range rr.frames {
			s.emitEvent(Event{Channel: t.channel, Kind: EventRecvPacket, Transport: handle, Packet: frame})
		}
		if rr.fatal != nil {
			toClose = append(toClose, transportCloseRequest{handle, readErrorCode(rr), rr.fatal})
			return
		}

		for {
			wr := t.doWrite(time.Now())
			if wr.fatal != nil {
				toClose = append(toClose, transportCloseRequest{handle, ErrSendFailed, wr.fatal})
				return
			}
			if wr.shouldExpire {
				// A send timeout on the head PDU is a fatal per-transport
				// error, not a recoverable one: tear the transport down.
				toClose = append(toClose, transportCloseRequest{handle, ErrSendTimeout, nil})
				return
			}
			if wr.queueEmpty || !wr.wroteAny {
				break
			}
		}
		if t.sendQueueDepth() > 0 {
			s.bumpWork()
		}
	})

	for _, req := range toClose {
		s.closeTransportInternal(req.handle, req.code, req.cause, true)
	}
}

// transportFailure wraps a transport teardown cause in the typed error
// delivered on the CONNECTION_LOST event, preserving the underlying OS
// socket error for errors.Is/errors.As.
func transportFailure(code ErrorCode, cause error) error {
	switch code {
	case ErrNone:
		return nil
	case ErrSendFailed, ErrSendTimeout:
		return &SendError{Code: code, Cause: cause}
	case ErrIllegalPDU:
		var fe *FramingError
		if errors.As(cause, &fe) {
			return fe
		}
		return &FramingError{Reason: "illegal frame"}
	default:
		return &RecvError{Code: code, Cause: cause}
	}
}

// readErrorCode maps a fatal read outcome onto its error code: a framing
// violation is ErrIllegalPDU, an orderly peer close is ErrConnectionLost,
// anything else is ErrRecvFailed.
func readErrorCode(rr readResult) ErrorCode {
	var fe *FramingError
	switch {
	case errors.As(rr.fatal, &fe):
		return ErrIllegalPDU
	case rr.eof:
		return ErrConnectionLost
	default:
		return ErrRecvFailed
	}
}

// advanceChannels drives connect-completion, accept, and resolve
// state-machine progress for every configured channel.
func (s *Service) advanceChannels() {
	s.channels.each(func(index, generation uint32, ch *channel) {
		handle := ChannelIndex{index: index, generation: generation}
		switch ch.State() {
		case ChannelRequestOpen:
			s.progressOpen(handle, ch)
		case ChannelOpening:
			s.progressConnecting(handle, ch)
		case ChannelOpened:
			if ch.kind.isServer() {
				s.progressAccept(handle, ch)
			}
		}
	})
}

// progressOpen drives the resolve state machine and begins
// connecting/listening once resolution is ready. Server channels bind
// locally and skip resolution entirely.
func (s *Service) progressOpen(handle ChannelIndex, ch *channel) {
	if ch.kind.isServer() {
		s.beginListen(handle, ch)
		return
	}

	ch.mu.Lock()
	if ep, literal := literalHostEndpoint(ch.host, ch.port); literal && ch.resolveState != ResolveFailed {
		ch.endpoints = []netip.AddrPort{ep}
		ch.resolveState = ResolveReady
	} else if ch.resolveState == ResolveReady && s.opts.dnsCacheTimeout > 0 && time.Since(ch.lastResolved) >= s.opts.dnsCacheTimeout {
		// cache aged out: READY -> DIRTY, re-resolve before dialing
		ch.endpoints = nil
		ch.resolveState = ResolveDirty
	}
	state := ch.resolveState
	resolveErr := ch.resolveErr
	if state == ResolveDirty {
		ch.resolveState = ResolveInProgress
	}
	ch.mu.Unlock()

	switch state {
	case ResolveReady:
		s.beginConnect(handle, ch)
	case ResolveFailed:
		s.failChannelOpen(handle, ch, resolveErrorCode(resolveErr), resolveErr)
	case ResolveDirty:
		s.resolver.startResolve(ch.host, ch.port, func(res resolveResult) {
			ch.mu.Lock()
			switch {
			case res.err != nil:
				ch.resolveErr = res.err
				ch.resolveState = ResolveFailed
			case len(res.endpoints) == 0:
				// never IN_PROGRESS -> READY with empty endpoints
				ch.resolveErr = errEmptyResolution
				ch.resolveState = ResolveFailed
			default:
				ch.endpoints = res.endpoints
				ch.resolveErr = nil
				ch.resolveState = ResolveReady
				ch.lastResolved = time.Now()
			}
			ch.mu.Unlock()
		})
	case ResolveInProgress:
		// lookup still in flight; the resolver interrupts the loop on
		// completion.
	}
}

var errEmptyResolution = errors.New("ioservice: resolution returned no endpoints")

// resolveErrorCode distinguishes a lookup that timed out from one that
// failed outright.
func resolveErrorCode(err error) ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrResolveHostTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsTimeout {
		return ErrResolveHostTimeout
	}
	return ErrResolveHostFailed
}

func (s *Service) beginListen(handle ChannelIndex, ch *channel) {
	ln, pc, err := listenServer(ch.kind, ch.port)
	if err != nil {
		s.failChannelOpen(handle, ch, ErrConnectFailed, err)
		return
	}
	fd := -1
	if ln != nil {
		fd = s.watchReadable(ln)
	} else if pc != nil {
		fd = s.watchReadable(pc)
	}
	ch.mu.Lock()
	ch.listener = ln
	ch.listenerPC = pc
	ch.listenerFD = fd
	ch.mu.Unlock()
	ch.setState(ChannelOpened)
	logDebug(s.opts.logger, "channel", handle, "listening")
	s.emitEvent(Event{Channel: handle, Kind: EventConnectResponse, Code: ErrNone})
}

func (s *Service) beginConnect(handle ChannelIndex, ch *channel) {
	ch.mu.Lock()
	var ep netip.AddrPort
	if len(ch.endpoints) > 0 {
		ep = ch.endpoints[0]
	}
	// clear the previous attempt's dial outcome so progressConnecting does
	// not mistake stale state for a completed dial
	ch.clientSocket = nil
	ch.lastError = nil
	ch.mu.Unlock()

	ch.setState(ChannelOpening)
	go s.dialClient(handle, ch, ep)
}

// dialClient performs the connect on a background goroutine (see the
// connectTCPClient doc comment in channel.go) and reports the outcome back
// through the channel's fields for the next tick to observe.
func (s *Service) dialClient(handle ChannelIndex, ch *channel, ep netip.AddrPort) {
	var conn net.Conn
	var err error
	if ch.kind.isUDP() {
		conn, err = connectUDPClient(ch.kind, ch.localPort, ep)
	} else {
		conn, err = connectTCPClient(ch.kind, ch.localPort, ep, s.opts.connectTimeout)
	}
	ch.mu.Lock()
	ch.clientSocket = conn
	ch.lastError = err
	ch.mu.Unlock()
	if conn != nil && ch.State() == ChannelClosed {
		// the channel was closed while the dial was in flight; the loop will
		// never adopt this socket, so release it here
		ch.mu.Lock()
		ch.clientSocket = nil
		ch.mu.Unlock()
		_ = conn.Close()
	}
	s.interrupt()
}

func (s *Service) progressConnecting(handle ChannelIndex, ch *channel) {
	ch.mu.Lock()
	conn := ch.clientSocket
	err := ch.lastError
	ch.mu.Unlock()

	if conn == nil && err == nil {
		return // dial still in flight
	}
	if err != nil {
		s.failChannelOpen(handle, ch, connectErrorCode(err), err)
		return
	}

	handleT, _ := s.spawnTransport(handle, ch, conn)
	ch.mu.Lock()
	ch.transport = handleT
	ch.mu.Unlock()
	ch.setState(ChannelOpened)
	applyTCPKeepAlive(conn, ch.kind, s.opts.keepAlive)
	s.emitEvent(Event{Channel: handle, Kind: EventConnectResponse, Code: ErrNone, Transport: handleT})
}

// connectErrorCode maps a dial failure onto its error code.
func connectErrorCode(err error) ErrorCode {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrConnectTimeout
	}
	if errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return ErrNetworkUnreachable
	}
	return ErrConnectFailed
}

func (s *Service) spawnTransport(handle ChannelIndex, ch *channel, conn net.Conn) (TransportHandle, *transport) {
	index, generation := s.transports.insert(nil)
	th := TransportHandle{index: index, generation: generation}
	headerLen := 0
	if ch.decoder == nil {
		headerLen = frameHeaderLen(ch.framing)
	}
	t := newTransport(th, handle, ch.kind, conn, channelDecoder(ch), headerLen)
	t.regFD = s.watchReadable(conn)
	s.transports.update(index, generation, func(p **transport) { *p = t })
	return th, t
}

func channelDecoder(ch *channel) FrameDecoder {
	if ch.decoder != nil {
		return ch.decoder
	}
	return NewLengthPrefixDecoder(ch.framing)
}

func (s *Service) failChannelOpen(handle ChannelIndex, ch *channel, code ErrorCode, cause error) {
	ch.mu.Lock()
	ch.lastError = cause
	ch.mu.Unlock()
	ch.setState(ChannelClosed)
	ev := Event{Channel: handle, Kind: EventConnectResponse, Code: code}
	switch code {
	case ErrResolveHostFailed, ErrResolveHostTimeout, ErrResolveHostIPv6Required:
		ev.Err = &ResolveError{Code: code, Host: ch.host, Cause: cause}
	default:
		ev.Err = &ConnectError{Code: code, Channel: handle, Cause: cause}
	}
	s.emitEvent(ev)
	logWarn(s.opts.logger, "channel", handle, "open failed", cause)
	s.maybeScheduleReconnect(ch)
}

// maybeScheduleReconnect implements the reconnect policy: when a TCP client
// channel fails to connect or loses its connection, and a reconnect timeout
// is configured, schedule a one-shot timer that re-enters open. The timer
// is held on the channel so CloseChannel and Stop can cancel it.
func (s *Service) maybeScheduleReconnect(ch *channel) {
	if !ch.kind.isClient() || !ch.kind.isTCP() || s.opts.reconnectTimeout <= 0 {
		return
	}
	t := s.timers.NewTimer()
	ch.mu.Lock()
	ch.connectTimer = t
	ch.mu.Unlock()
	t.ExpiresFromNow(s.opts.reconnectTimeout)
	t.AsyncWait(func(cancelled bool) {
		if cancelled {
			return
		}
		ch.mu.Lock()
		ch.connectTimer = nil
		if ch.resolveState == ResolveFailed {
			// a failed resolution is retried from scratch on reconnect
			ch.resolveState = ResolveDirty
			ch.resolveErr = nil
		}
		ch.mu.Unlock()
		if ch.state.CompareAndSwap(uint32(ChannelClosed), uint32(ChannelRequestOpen)) {
			s.interrupt()
		}
	})
}

func (s *Service) progressAccept(handle ChannelIndex, ch *channel) {
	if ch.kind.isTCP() {
		s.progressAcceptTCP(handle, ch)
		return
	}
	s.progressAcceptUDP(handle, ch)
}

func (s *Service) progressAcceptTCP(handle ChannelIndex, ch *channel) {
	ch.mu.Lock()
	ln := ch.listener
	ch.mu.Unlock()
	if ln == nil {
		return
	}
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now())
	}
	conn, err := ln.Accept()
	if err != nil {
		return // no pending connection, or transient accept error
	}
	handleT, _ := s.spawnTransport(handle, ch, conn)
	applyTCPKeepAlive(conn, ch.kind, s.opts.keepAlive)
	s.emitEvent(Event{Channel: handle, Kind: EventConnectResponse, Code: ErrNone, Transport: handleT})
}

// progressAcceptUDP is the datagram analogue of accept: every datagram on
// the listening socket is routed to a per-peer session transport, created
// on first contact. Replies go out through the shared listening socket
// addressed to the peer, so the peer sees them come from the port it sent
// to.
func (s *Service) progressAcceptUDP(handle ChannelIndex, ch *channel) {
	ch.mu.Lock()
	pc := ch.listenerPC
	ch.mu.Unlock()
	if pc == nil {
		return
	}
	buf := make([]byte, scratchBufferSize)
	for {
		_ = pc.SetReadDeadline(time.Now())
		n, addr, err := pc.ReadFrom(buf)
		if err != nil || n <= 0 {
			return
		}
		s.routeDatagram(handle, ch, pc, addr, buf[:n])
	}
}

// routeDatagram finds (or creates) the session transport for addr and feeds
// it one datagram's bytes through the framing extractor.
func (s *Service) routeDatagram(handle ChannelIndex, ch *channel, pc net.PacketConn, addr net.Addr, data []byte) {
	key := addr.String()
	ch.mu.Lock()
	if ch.udpPeers == nil {
		ch.udpPeers = make(map[string]TransportHandle)
	}
	th, known := ch.udpPeers[key]
	ch.mu.Unlock()

	var t *transport
	if known {
		t, known = s.transports.get(th.index, th.generation)
	}
	if !known || t == nil {
		index, generation := s.transports.insert(nil)
		th = TransportHandle{index: index, generation: generation}
		headerLen := 0
		if ch.decoder == nil {
			headerLen = frameHeaderLen(ch.framing)
		}
		t = newTransport(th, handle, ch.kind, nil, channelDecoder(ch), headerLen)
		t.udpPC = pc
		t.peer = addr
		s.transports.update(index, generation, func(p **transport) { *p = t })
		ch.mu.Lock()
		ch.udpPeers[key] = th
		ch.mu.Unlock()
		s.emitEvent(Event{Channel: handle, Kind: EventConnectResponse, Code: ErrNone, Transport: th})
	}

	frames, ferr := t.feed(data)
	for _, frame := range frames {
		s.emitEvent(Event{Channel: handle, Kind: EventRecvPacket, Transport: th, Packet: frame})
	}
	if ferr != nil {
		s.closeTransportInternal(th, ErrIllegalPDU, ferr, false)
	}
}

func applyTCPKeepAlive(conn net.Conn, kind ChannelKind, ka KeepAlive) {
	if !kind.isTCP() || ka.Idle <= 0 {
		return
	}
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     ka.Idle,
		Interval: ka.Interval,
		Count:    ka.Probes,
	})
}

// closeTransportInternal tears one transport down: close the socket, erase
// it from the arena, enqueue CONNECTION_LOST carrying the typed cause, and
// update the owning channel's bookkeeping. allowReconnect is set only for
// loop-detected failures; a user-requested close never triggers the
// reconnect policy.
func (s *Service) closeTransportInternal(handle TransportHandle, code ErrorCode, cause error, allowReconnect bool) {
	t, ok := s.transports.get(handle.index, handle.generation)
	if !ok || t == nil {
		return
	}
	if t.closing {
		return
	}
	t.closing = true
	s.unwatch(t.regFD)
	t.regFD = -1
	_ = t.close()
	s.transports.remove(handle.index, handle.generation)
	logDebug(s.opts.logger, "transport", t.channel, "transport closed")
	s.emitEvent(Event{Channel: t.channel, Kind: EventConnectionLost, Code: code, Transport: handle, Err: transportFailure(code, cause)})

	ch, ok := s.channels.get(t.channel.index, t.channel.generation)
	if !ok || ch == nil {
		return
	}
	ch.mu.Lock()
	if t.peer != nil {
		delete(ch.udpPeers, t.peer.String())
	}
	wasClientTransport := ch.transport == handle
	if wasClientTransport {
		ch.transport = TransportHandle{}
		ch.clientSocket = nil
	}
	ch.mu.Unlock()

	if wasClientTransport {
		ch.state.CompareAndSwap(uint32(ChannelOpened), uint32(ChannelClosed))
		if allowReconnect {
			s.maybeScheduleReconnect(ch)
		}
	}
}

func (s *Service) emitEvent(ev Event) {
	s.dispatcher.emit(ev)
}

func (s *Service) bumpWork() {
	s.outstandingWork.Add(1)
}

// interrupt wakes the reactor from its readiness wait; safe from any
// goroutine.
func (s *Service) interrupt() {
	_ = s.interrupter.Interrupt()
}

func (s *Service) requestStop() {
	s.state.CompareAndSwap(uint32(ServiceRunning), uint32(ServiceStopping))
	s.interrupt()
}

// run is the reactor goroutine body: a tight for-loop calling tick() until
// the state machine reaches ServiceStopping, then cleanup(). Thread
// affinity matters for the epoll/kqueue backends, so the OS thread is
// locked for the duration.
func (s *Service) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	s.loopGoroutineID.Store(currentGoroutineID())
	defer s.loopGoroutineID.Store(0)

	for s.state.Load() == uint32(ServiceRunning) {
		s.tick()
	}
	s.cleanup()
	close(s.doneCh)
}

// cleanup cancels every channel's pending timer, closes every open channel
// socket, and closes every remaining transport, each enqueuing its
// CONNECTION_LOST.
func (s *Service) cleanup() {
	var timers []*Timer
	s.channels.each(func(_, _ uint32, ch *channel) {
		ch.mu.Lock()
		if ch.connectTimer != nil {
			timers = append(timers, ch.connectTimer)
			ch.connectTimer = nil
		}
		listener := ch.listener
		listenerPC := ch.listenerPC
		listenerFD := ch.listenerFD
		clientSocket := ch.clientSocket
		ch.listener = nil
		ch.listenerPC = nil
		ch.listenerFD = -1
		ch.clientSocket = nil
		ch.mu.Unlock()
		ch.setState(ChannelClosed)
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
	})
	for _, t := range timers {
		t.Cancel()
	}

	var handles []TransportHandle
	s.transports.each(func(index, generation uint32, _ *transport) {
		handles = append(handles, TransportHandle{index: index, generation: generation})
	})
	for _, h := range handles {
		s.closeTransportInternal(h, ErrNone, nil, false)
	}

	_ = s.readiness.Close()
	_ = s.interrupter.Close()
	s.state.Store(uint32(ServiceStopped))
}

// currentGoroutineID extracts the calling goroutine's ID by parsing the
// runtime stack trace header. Used only for the isLoopThread() reentrancy
// check, never on a hot path.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
