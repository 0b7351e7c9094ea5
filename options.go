// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"time"
)

// KeepAlive holds TCP keepalive tuning: probe after Idle without traffic,
// re-probe every Interval, give up after Probes failures.
type KeepAlive struct {
	Idle     time.Duration
	Interval time.Duration
	Probes   int
}

// options holds the fully-resolved, immutable service-wide configuration
// produced by resolveOptions. Every field corresponds to one Option
// constructor below; there is no escape hatch for an unrecognized key.
type options struct {
	connectTimeout   time.Duration
	sendTimeout      time.Duration
	reconnectTimeout time.Duration // < 0 disables
	dnsCacheTimeout  time.Duration
	deferredEvent    bool
	keepAlive        KeepAlive
	logger           Logger
	noWorkerThread   bool
	resolverOverride ResolveFunc
	framing          FrameConfig
}

// Option configures a Service at construction time.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithConnectTimeout bounds how long a client channel may spend in
// ChannelOpening before it is failed with ErrConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) { o.connectTimeout = d })
}

// WithSendTimeout bounds how long a PDU may take, counted from the Write
// that queued it, to be fully sent. When the head PDU is past its deadline
// it is dropped and the transport is closed with CONNECTION_LOST carrying
// ErrSendTimeout.
func WithSendTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) { o.sendTimeout = d })
}

// WithReconnectTimeout enables automatic reconnection of TCP client channels
// after CONNECTION_LOST. A negative duration disables it (the default).
func WithReconnectTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) { o.reconnectTimeout = d })
}

// WithDNSCacheTimeout bounds how long a resolved endpoint list is trusted
// before the resolver re-resolves on next use.
func WithDNSCacheTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) { o.dnsCacheTimeout = d })
}

// WithDeferredEvents switches event delivery from inline (on the reactor
// goroutine) to a FIFO drained by explicit calls to Service.DispatchEvents.
func WithDeferredEvents(enabled bool) Option {
	return optionFunc(func(o *options) { o.deferredEvent = enabled })
}

// WithKeepAlive sets the TCP keepalive parameters applied to every TCP
// transport this service creates.
func WithKeepAlive(k KeepAlive) Option {
	return optionFunc(func(o *options) { o.keepAlive = k })
}

// WithLogger installs the structured logging sink. The zero value keeps the
// default no-op logger.
func WithLogger(l Logger) Option {
	return optionFunc(func(o *options) {
		if l != nil {
			o.logger = l
		}
	})
}

// WithNoWorkerThread makes Service.Start run the reactor loop synchronously
// on the calling goroutine, returning once the service stops, instead of
// spawning a goroutine for it. Exactly one goroutine
// ever runs the reactor loop either way.
func WithNoWorkerThread() Option {
	return optionFunc(func(o *options) { o.noWorkerThread = true })
}

// WithFraming sets the default length-prefix framing parameters applied to
// channels that do not override them via WithChannelFraming.
func WithFraming(cfg FrameConfig) Option {
	return optionFunc(func(o *options) { o.framing = cfg })
}

// WithResolver overrides the default net.Resolver-backed lookup with a
// caller-supplied function, e.g. to point at a custom DNS server or a static
// hosts table.
func WithResolver(fn ResolveFunc) Option {
	return optionFunc(func(o *options) { o.resolverOverride = fn })
}

func defaultOptions() *options {
	return &options{
		connectTimeout:   10 * time.Second,
		sendTimeout:      30 * time.Second,
		reconnectTimeout: -1,
		dnsCacheTimeout:  10 * time.Minute,
		logger:           defaultLogger,
		framing:          DefaultFrameConfig(),
	}
}

func resolveOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(o)
	}
	return o
}

// ChannelOption configures a single channel at Open time: per-channel
// overrides live in a syntactically distinct option universe from the
// service-wide Option set so a service-only option cannot be passed by
// mistake to Open.
type ChannelOption interface {
	applyChannel(*channelOptions)
}

type channelOptions struct {
	localPort uint16
	framing   *FrameConfig
	decoder   FrameDecoder
}

type channelOptionFunc func(*channelOptions)

func (f channelOptionFunc) applyChannel(o *channelOptions) { f(o) }

// WithLocalPort binds a client channel's outbound socket to a specific local
// port instead of an ephemeral one. Server channels ignore it; they listen
// on their Endpoint's Port.
func WithLocalPort(port uint16) ChannelOption {
	return channelOptionFunc(func(o *channelOptions) { o.localPort = port })
}

// WithChannelFraming overrides the service-wide framing defaults for one
// channel.
func WithChannelFraming(cfg FrameConfig) ChannelOption {
	return channelOptionFunc(func(o *channelOptions) { o.framing = &cfg })
}

// WithFrameDecoder installs a custom frame-length decoder for one channel,
// overriding the built-in length-prefix decoder entirely.
func WithFrameDecoder(d FrameDecoder) ChannelOption {
	return channelOptionFunc(func(o *channelOptions) { o.decoder = d })
}

func resolveChannelOptions(svcFraming FrameConfig, opts []ChannelOption) *channelOptions {
	o := &channelOptions{framing: &svcFraming}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyChannel(o)
	}
	return o
}
