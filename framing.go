// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import "encoding/binary"

// FrameDecoder extracts a frame length from the bytes accumulated so far.
// It must be pure: the result depends only on (buffer, validBytes).
//
// Return values:
//   - positive N ≤ max frame length: the full frame size (header+body),
//   - 0: header not yet complete, caller should accumulate and retry,
//   - negative: framing error, the transport is terminated.
type FrameDecoder func(buffer []byte, validBytes int) int

// FrameConfig configures the built-in length-prefix FrameDecoder.
type FrameConfig struct {
	// LengthFieldOffset is the byte offset of the length field within the
	// frame header. A negative value disables framing entirely: every
	// non-blocking read is delivered as one PDU.
	LengthFieldOffset int

	// LengthFieldLength is the width of the length field in bytes, one of
	// 1, 2, 3, or 4. Read big-endian off the wire; a 3-byte field is the
	// top 24 bits of a 32-bit big-endian read.
	LengthFieldLength int

	// LengthAdjustment is added to the parsed length field to yield the
	// total frame size (header + body). May be positive (e.g. the header
	// width, when the length field counts only the body) or negative.
	LengthAdjustment int

	// MaxFrameLength is the absolute cap on total frame size; a frame that
	// would exceed it is reported as a decode error.
	MaxFrameLength int
}

// DefaultFrameConfig returns the common length-prefix configuration: a
// 4-byte big-endian length field at offset 0, no adjustment, max frame
// length effectively unbounded for ordinary use.
func DefaultFrameConfig() FrameConfig {
	return FrameConfig{
		LengthFieldOffset: 0,
		LengthFieldLength: 4,
		LengthAdjustment:  0,
		MaxFrameLength:    16 * 1024 * 1024,
	}
}

// frameHeaderLen reports how many leading bytes of a decoded frame are the
// length header itself, stripped before a PDU is handed to the application
// (the event payload is body-only). A negative LengthFieldOffset (framing
// disabled) has no header to strip.
func frameHeaderLen(cfg FrameConfig) int {
	if cfg.LengthFieldOffset < 0 {
		return 0
	}
	return cfg.LengthFieldOffset + cfg.LengthFieldLength
}

// NewLengthPrefixDecoder builds the built-in FrameDecoder: read the length
// field at the configured offset/width, add the adjustment, and cap against
// MaxFrameLength.
func NewLengthPrefixDecoder(cfg FrameConfig) FrameDecoder {
	return func(buffer []byte, validBytes int) int {
		if cfg.LengthFieldOffset < 0 {
			return validBytes
		}
		need := cfg.LengthFieldOffset + cfg.LengthFieldLength
		if validBytes < need {
			return 0
		}
		field := buffer[cfg.LengthFieldOffset:need]

		var parsed int64
		switch cfg.LengthFieldLength {
		case 1:
			parsed = int64(field[0])
		case 2:
			parsed = int64(binary.BigEndian.Uint16(field))
		case 3:
			parsed = int64(field[0])<<16 | int64(field[1])<<8 | int64(field[2])
		case 4:
			parsed = int64(binary.BigEndian.Uint32(field))
		default:
			return -1
		}

		length := parsed + int64(cfg.LengthAdjustment)
		if length < 0 {
			return -1
		}
		if cfg.MaxFrameLength > 0 && length > int64(cfg.MaxFrameLength) {
			return -1
		}
		return int(length)
	}
}
