// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"
)

const scratchBufferSize = 65536

// pendingSend is one queued PDU awaiting transmission.
type pendingSend struct {
	data     []byte
	offset   int
	deadline time.Time // zero means no expiry
	done     func(code ErrorCode)
}

func (p *pendingSend) expired(now time.Time) bool {
	return !p.deadline.IsZero() && now.After(p.deadline)
}

// transport is a live socket bound to a channel: either the client side of
// a dial, or one accepted/recvfrom'd peer session on a server channel. The
// framing state machine lives here: a fixed scratch buffer with a
// residual-byte offset, plus the expected-size/accumulator pair for the
// frame currently being assembled.
type transport struct {
	handle  TransportHandle
	channel ChannelIndex
	kind    ChannelKind

	conn  net.Conn
	udpPC net.PacketConn // set instead of conn for a UDP server's accepted "session"
	peer  net.Addr
	regFD int // descriptor registered for read readiness, -1 when none

	decoder   FrameDecoder
	headerLen int // leading bytes of a decoded frame stripped before delivery

	scratch        [scratchBufferSize]byte
	offset         int // valid residual bytes at head of scratch
	expectedSize   int // -1 means "no frame header decoded yet"
	pduAccumulator []byte

	sendMu    sync.Mutex
	sendQueue *chunkQueue[*pendingSend]

	closing bool
}

func newTransport(handle TransportHandle, ch ChannelIndex, kind ChannelKind, conn net.Conn, decoder FrameDecoder, headerLen int) *transport {
	return &transport{
		handle:       handle,
		channel:      ch,
		kind:         kind,
		conn:         conn,
		regFD:        -1,
		decoder:      decoder,
		headerLen:    headerLen,
		expectedSize: -1,
		sendQueue:    newChunkQueue[*pendingSend](),
	}
}

// enqueueSend appends data to the send queue under the queue lock. Returns
// the new queue depth so the caller can decide whether to bump outstanding
// work.
func (t *transport) enqueueSend(data []byte, sendTimeout time.Duration, done func(ErrorCode)) int {
	ps := &pendingSend{data: data, done: done}
	if sendTimeout > 0 {
		ps.deadline = time.Now().Add(sendTimeout)
	}
	t.sendMu.Lock()
	t.sendQueue.Push(ps)
	depth := t.sendQueue.Len()
	t.sendMu.Unlock()
	return depth
}

// writeResult reports what happened during one write attempt, so the event
// loop can decide whether to keep writing, whether to close the transport,
// and whether to bump outstanding work.
type writeResult struct {
	wroteAny     bool
	queueEmpty   bool
	fatal        error
	shouldExpire bool
}

// doWrite performs at most one non-blocking send attempt of the queue
// head: a full send pops and signals OK; any incomplete send advances the
// offset by what was written and, if the head has expired, drops it with a
// send timeout; otherwise a zero-byte send is reported as a retry
// (recoverable error) or as fatal.
func (t *transport) doWrite(now time.Time) writeResult {
	t.sendMu.Lock()
	head, ok := t.sendQueue.Peek()
	t.sendMu.Unlock()
	if !ok {
		return writeResult{queueEmpty: true}
	}

	outstanding := head.data[head.offset:]
	n, err := t.rawWrite(outstanding)

	if n == len(outstanding) {
		t.sendMu.Lock()
		t.sendQueue.Pop()
		depth := t.sendQueue.Len()
		t.sendMu.Unlock()
		if head.done != nil {
			head.done(ErrNone)
		}
		return writeResult{wroteAny: true, queueEmpty: depth == 0}
	}

	if n > 0 {
		head.offset += n
	}

	// Expiry is checked whenever the send didn't fully complete, not only
	// after a partial write: a completely full socket buffer (n == 0, a
	// recoverable EAGAIN-equivalent) must still be subject to the PDU's
	// deadline, or a stalled head-of-queue send would never time out.
	if head.expired(now) {
		t.sendMu.Lock()
		t.sendQueue.Pop()
		depth := t.sendQueue.Len()
		t.sendMu.Unlock()
		if head.done != nil {
			head.done(ErrSendTimeout)
		}
		return writeResult{wroteAny: n > 0, queueEmpty: depth == 0, shouldExpire: true}
	}

	if n > 0 {
		return writeResult{wroteAny: true}
	}

	if isRecoverableIOError(err) {
		return writeResult{}
	}
	return writeResult{fatal: err}
}

// rawWrite and rawRead probe the socket without blocking the reactor
// goroutine. net.Conn has no raw non-blocking mode exposed to callers, so
// an immediate deadline stands in for O_NONBLOCK + EAGAIN; the resulting
// deadline timeout is folded into the EAGAIN-equivalent branch of
// isRecoverableIOError.
func (t *transport) rawWrite(b []byte) (int, error) {
	if t.udpPC != nil {
		_ = t.udpPC.SetWriteDeadline(time.Now())
		return t.udpPC.WriteTo(b, t.peer)
	}
	_ = t.conn.SetWriteDeadline(time.Now())
	return t.conn.Write(b)
}

func (t *transport) rawRead(b []byte) (int, error) {
	_ = t.conn.SetReadDeadline(time.Now())
	return t.conn.Read(b)
}

// readResult carries the frames completed by one read pass, or the reason
// the transport must close. eof distinguishes an orderly peer close from a
// local failure so the loop can report CONNECTION_LOST vs RECV_FAILED.
type readResult struct {
	frames [][]byte
	fatal  error
	eof    bool
}

// doRead performs one non-blocking receive into the scratch buffer tail
// and runs the framing extractor.
func (t *transport) doRead() readResult {
	if t.udpPC != nil {
		// Server-side UDP session: datagrams arrive on the channel's shared
		// listening socket and are routed here via feed, nothing to read.
		return readResult{}
	}
	n, err := t.rawRead(t.scratch[t.offset:])
	if n <= 0 {
		if err == nil || isRecoverableIOError(err) {
			return readResult{}
		}
		if errors.Is(err, io.EOF) {
			return readResult{eof: true, fatal: err}
		}
		return readResult{fatal: err}
	}
	t.offset += n
	frames, ferr := t.extractFrames()
	return readResult{frames: frames, fatal: ferr}
}

// feed appends one datagram's bytes to the scratch buffer and extracts any
// completed frames. Used by a UDP server channel to route datagrams from its
// listening socket to the originating peer's session transport.
func (t *transport) feed(data []byte) ([][]byte, error) {
	if t.offset+len(data) > len(t.scratch) {
		return nil, &FramingError{Reason: "datagram overflows the scratch buffer"}
	}
	copy(t.scratch[t.offset:], data)
	t.offset += len(data)
	return t.extractFrames()
}

// extractFrames runs the framing extractor over the accumulated bytes until
// no further complete frame can be produced, so a single receive carrying
// several back-to-back frames delivers them all, in arrival order. Frames
// completed before a framing violation are still returned alongside the
// error.
func (t *transport) extractFrames() ([][]byte, error) {
	var frames [][]byte
	for {
		if t.expectedSize == -1 {
			if t.offset == 0 {
				return frames, nil
			}
			length := t.decoder(t.scratch[:t.offset], t.offset)
			switch {
			case length > 0:
				t.expectedSize = length
				t.pduAccumulator = make([]byte, 0, length)
			case length == 0:
				return frames, nil // header not yet complete, await more bytes
			default:
				return frames, &FramingError{Reason: "decoder reported illegal frame length"}
			}
		}
		frame, complete := t.unpack()
		if !complete {
			return frames, nil
		}
		frames = append(frames, frame)
	}
}

// unpack copies min(expected, available) bytes from the scratch buffer
// head into the PDU accumulator and shifts any residual bytes back to the
// head, returning the finished frame (header stripped) once the accumulator
// reaches expectedSize.
func (t *transport) unpack() ([]byte, bool) {
	need := t.expectedSize - len(t.pduAccumulator)
	take := need
	if take > t.offset {
		take = t.offset
	}
	t.pduAccumulator = append(t.pduAccumulator, t.scratch[:take]...)

	remaining := t.offset - take
	if remaining > 0 {
		copy(t.scratch[:remaining], t.scratch[take:take+remaining])
	}
	t.offset = remaining

	if len(t.pduAccumulator) < t.expectedSize {
		return nil, false
	}

	frame := t.pduAccumulator
	t.pduAccumulator = nil
	t.expectedSize = -1
	if t.headerLen > 0 && t.headerLen <= len(frame) {
		frame = frame[t.headerLen:]
	}
	return frame, true
}

// hasResidual reports whether unconsumed bytes remain in the scratch buffer
// after a read pass. Since extractFrames drains every completable frame
// inline, residual bytes always belong to an incomplete frame awaiting more
// data; diagnostic only.
func (t *transport) hasResidual() bool { return t.offset > 0 }

func (t *transport) sendQueueDepth() int {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.sendQueue.Len()
}

func (t *transport) close() error {
	if t.conn != nil {
		if tc, ok := t.conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		return t.conn.Close()
	}
	// A UDP server session shares its channel's listening socket; the channel
	// owns it, so there is nothing to close here.
	return nil
}

// isRecoverableIOError reports whether err is a would-block/interrupted
// class error that the reactor should absorb and retry on next readiness,
// rather than one that should close the transport.
func isRecoverableIOError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
