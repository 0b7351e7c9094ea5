// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"net"
	"net/netip"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// ChannelKind classifies a channel: a combination of endpoint role
// (client/server) and transport kind (TCP/UDP).
type ChannelKind uint8

const (
	ChannelClient ChannelKind = 1 << iota
	ChannelServer
	ChannelTCP
	ChannelUDP
)

func (k ChannelKind) isClient() bool { return k&ChannelClient != 0 }
func (k ChannelKind) isServer() bool { return k&ChannelServer != 0 }
func (k ChannelKind) isTCP() bool    { return k&ChannelTCP != 0 }
func (k ChannelKind) isUDP() bool    { return k&ChannelUDP != 0 }

// channel is a configured endpoint: either a TCP/UDP client dialing
// (host, port), or a TCP/UDP server listening on port.
type channel struct {
	index ChannelIndex
	kind  ChannelKind

	host      string
	port      uint16
	localPort uint16

	framing FrameConfig
	decoder FrameDecoder

	state *atomicState // ChannelState

	mu           sync.Mutex
	resolveState ResolveState
	endpoints    []netip.AddrPort
	resolveErr   error
	lastResolved time.Time

	listener     net.Listener
	listenerPC   net.PacketConn
	listenerFD   int // listening socket's descriptor in the read set, -1 when none
	clientSocket net.Conn

	// transport bound to this channel once OPENED (client). Server-side
	// transports are tracked in the service's transport arena; a UDP server
	// additionally keeps the peer-address routing table below so datagrams
	// from a known peer reach their session transport.
	transport TransportHandle
	udpPeers  map[string]TransportHandle

	// connectTimer holds the pending reconnect timer between a connection
	// loss or failed open and the re-open it schedules; owned by the service's timer queue,
	// referenced here only so CloseChannel and Stop can cancel it.
	connectTimer *Timer

	lastError error
}

func newChannel(index ChannelIndex, kind ChannelKind, host string, port, localPort uint16, framing FrameConfig, decoder FrameDecoder) *channel {
	return &channel{
		index:      index,
		kind:       kind,
		host:       host,
		port:       port,
		localPort:  localPort,
		framing:    framing,
		decoder:    decoder,
		listenerFD: -1,
		state:      newAtomicState(uint32(ChannelClosed)),
	}
}

func (c *channel) State() ChannelState { return ChannelState(c.state.Load()) }

func (c *channel) setState(s ChannelState) { c.state.Store(uint32(s)) }

// literalHostEndpoint recognizes a literal numeric host, which skips DNS
// resolution entirely.
func literalHostEndpoint(host string, port uint16) (netip.AddrPort, bool) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, port), true
}

// needsResolve reports whether host requires a DNS lookup (it is not a
// literal IP).
func (c *channel) needsResolve() bool {
	_, literal := literalHostEndpoint(c.host, c.port)
	return !literal
}

// dialNetwork returns the "tcp"/"udp" network string for net.Dial family
// functions, given the address family of the chosen endpoint.
func dialNetwork(kind ChannelKind, addr netip.Addr) string {
	base := "tcp"
	if kind.isUDP() {
		base = "udp"
	}
	if addr.Is4() || addr.Is4In6() {
		return base + "4"
	}
	return base + "6"
}

// connectTCPClient performs the client dial. net.Dialer with a timeout
// stands in for a raw non-blocking connect plus SO_ERROR-on-writable probe,
// since the runtime's netpoller already hides that fd state machine. The
// dial runs on a goroutine so the reactor is never blocked; its outcome is
// written back into the channel's fields for the next tick to observe.
func connectTCPClient(kind ChannelKind, localPort uint16, ep netip.AddrPort, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	if localPort != 0 {
		dialer.LocalAddr = &net.TCPAddr{Port: int(localPort)}
	}
	return dialer.Dial(dialNetwork(kind, ep.Addr()), ep.String())
}

// connectUDPClient assigns the peer address; for UDP the connect is
// effectively synchronous.
func connectUDPClient(kind ChannelKind, localPort uint16, ep netip.AddrPort) (net.Conn, error) {
	dialer := &net.Dialer{}
	if localPort != 0 {
		dialer.LocalAddr = &net.UDPAddr{Port: int(localPort)}
	}
	return dialer.Dial(dialNetwork(kind, ep.Addr()), ep.String())
}

// listenServer binds and, for TCP, listens. A UDP server on Windows is
// rejected by the caller before this is reached.
func listenServer(kind ChannelKind, port uint16) (net.Listener, net.PacketConn, error) {
	addr := net.JoinHostPort("", strconv.Itoa(int(port)))
	if kind.isTCP() {
		ln, err := net.Listen("tcp", addr)
		return ln, nil, err
	}
	pc, err := net.ListenPacket("udp", addr)
	return nil, pc, err
}

// isWindowsUDPServerRejected reports whether kind is a server+UDP
// combination on a platform that cannot support it without per-connection
// goroutines violating the single-reactor-thread model; the limitation is
// exposed rather than emulated.
func isWindowsUDPServerRejected(kind ChannelKind) bool {
	return runtime.GOOS == "windows" && kind.isServer() && kind.isUDP()
}
