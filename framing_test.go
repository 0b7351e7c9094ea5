// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"encoding/binary"
	"testing"
)

func TestNewLengthPrefixDecoder_Widths(t *testing.T) {
	cases := []struct {
		name   string
		cfg    FrameConfig
		encode func(bodyLen int) []byte
	}{
		{
			name: "1-byte",
			cfg:  FrameConfig{LengthFieldLength: 1, MaxFrameLength: 1024},
			encode: func(bodyLen int) []byte {
				return []byte{byte(bodyLen)}
			},
		},
		{
			name: "2-byte",
			cfg:  FrameConfig{LengthFieldLength: 2, MaxFrameLength: 1024},
			encode: func(bodyLen int) []byte {
				b := make([]byte, 2)
				binary.BigEndian.PutUint16(b, uint16(bodyLen))
				return b
			},
		},
		{
			name: "3-byte",
			cfg:  FrameConfig{LengthFieldLength: 3, MaxFrameLength: 1024},
			encode: func(bodyLen int) []byte {
				return []byte{byte(bodyLen >> 16), byte(bodyLen >> 8), byte(bodyLen)}
			},
		},
		{
			name: "4-byte",
			cfg:  FrameConfig{LengthFieldLength: 4, MaxFrameLength: 1024},
			encode: func(bodyLen int) []byte {
				b := make([]byte, 4)
				binary.BigEndian.PutUint32(b, uint32(bodyLen))
				return b
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoder := NewLengthPrefixDecoder(tc.cfg)
			header := tc.encode(42)
			got := decoder(header, len(header))
			if got != 42 {
				t.Fatalf("decoded length = %d, want 42", got)
			}
		})
	}
}

func TestNewLengthPrefixDecoder_IncompleteHeader(t *testing.T) {
	decoder := NewLengthPrefixDecoder(DefaultFrameConfig())
	got := decoder([]byte{0, 0, 0}, 3)
	if got != 0 {
		t.Fatalf("decoded length with incomplete header = %d, want 0", got)
	}
}

func TestNewLengthPrefixDecoder_OversizeRejected(t *testing.T) {
	cfg := FrameConfig{LengthFieldLength: 4, MaxFrameLength: 100}
	decoder := NewLengthPrefixDecoder(cfg)
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, 1000)
	got := decoder(b, 4)
	if got >= 0 {
		t.Fatalf("decoded length = %d, want negative (oversize)", got)
	}
}

func TestNewLengthPrefixDecoder_Adjustment(t *testing.T) {
	cfg := FrameConfig{LengthFieldLength: 2, LengthAdjustment: 2, MaxFrameLength: 1024}
	decoder := NewLengthPrefixDecoder(cfg)
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, 10)
	got := decoder(b, 2)
	if got != 12 {
		t.Fatalf("decoded length = %d, want 12 (10 + adjustment 2)", got)
	}
}

func TestNewLengthPrefixDecoder_NegativeOffsetDisablesFraming(t *testing.T) {
	cfg := FrameConfig{LengthFieldOffset: -1}
	decoder := NewLengthPrefixDecoder(cfg)
	got := decoder([]byte{1, 2, 3}, 3)
	if got != 3 {
		t.Fatalf("decoded length with framing disabled = %d, want validBytes (3)", got)
	}
}
