// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkQueue_FIFOOrder(t *testing.T) {
	q := newChunkQueue[int]()
	for i := 0; i < 500; i++ {
		q.Push(i)
	}
	require.Equal(t, 500, q.Len())
	for i := 0; i < 500; i++ {
		v, ok := q.Pop()
		require.True(t, ok, "Pop() at i=%d", i)
		assert.Equal(t, i, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok, "Pop() on empty queue should return false")
}

func TestChunkQueue_PeekDoesNotRemove(t *testing.T) {
	q := newChunkQueue[string]()
	q.Push("a")
	q.Push("b")

	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 2, q.Len(), "Peek must not remove the element")

	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestChunkQueue_ChunkBoundaryRecycling(t *testing.T) {
	q := newChunkQueue[int]()
	const n = chunkSize*3 + 7
	for round := 0; round < 3; round++ {
		for i := 0; i < n; i++ {
			q.Push(i)
		}
		for i := 0; i < n; i++ {
			v, ok := q.Pop()
			require.True(t, ok, "round %d, i=%d", round, i)
			assert.Equal(t, i, v)
		}
		assert.Equal(t, 0, q.Len(), "round %d", round)
	}
}
