// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioservice

import "testing"

func TestSlotArena_InsertGetRemove(t *testing.T) {
	a := newSlotArena[string]()

	idx, gen := a.insert("first")
	v, ok := a.get(idx, gen)
	if !ok || v != "first" {
		t.Fatalf("get() = %q,%v want first,true", v, ok)
	}

	removed, ok := a.remove(idx, gen)
	if !ok || removed != "first" {
		t.Fatalf("remove() = %q,%v want first,true", removed, ok)
	}

	if _, ok := a.get(idx, gen); ok {
		t.Fatal("get() after remove should fail")
	}
}

func TestSlotArena_StaleGenerationRejected(t *testing.T) {
	a := newSlotArena[int]()

	idx, gen := a.insert(1)
	a.remove(idx, gen)

	idx2, gen2 := a.insert(2)
	if idx2 != idx {
		t.Fatalf("expected slot reuse at same index, got idx=%d want %d", idx2, idx)
	}
	if gen2 == gen {
		t.Fatal("expected generation to differ after reuse")
	}

	if _, ok := a.get(idx, gen); ok {
		t.Fatal("get() with the stale generation should fail after reuse")
	}
	v, ok := a.get(idx2, gen2)
	if !ok || v != 2 {
		t.Fatalf("get() with fresh generation = %d,%v want 2,true", v, ok)
	}
}

func TestSlotArena_UpdateMutatesInPlace(t *testing.T) {
	a := newSlotArena[int]()
	idx, gen := a.insert(10)

	ok := a.update(idx, gen, func(v *int) { *v += 5 })
	if !ok {
		t.Fatal("update() on live handle should succeed")
	}

	v, _ := a.get(idx, gen)
	if v != 15 {
		t.Fatalf("value after update = %d, want 15", v)
	}

	a.remove(idx, gen)
	if a.update(idx, gen, func(v *int) { *v = 99 }) {
		t.Fatal("update() on stale handle should fail")
	}
}

func TestSlotArena_EachVisitsOnlyOccupied(t *testing.T) {
	a := newSlotArena[int]()
	i1, g1 := a.insert(1)
	_, g2 := a.insert(2)
	_, g3 := a.insert(3)

	a.remove(i1, g1)

	seen := map[int]bool{}
	a.each(func(_, _ uint32, v int) { seen[v] = true })

	if seen[1] {
		t.Fatal("each() visited a removed slot")
	}
	if !seen[2] || !seen[3] {
		t.Fatalf("each() missed live slots: %v", seen)
	}
	if got := a.len(); got != 2 {
		t.Fatalf("len() = %d, want 2", got)
	}

	_ = g2
	_ = g3
}

func TestSlotArena_OutOfRangeHandle(t *testing.T) {
	a := newSlotArena[int]()
	if _, ok := a.get(999, 1); ok {
		t.Fatal("get() on out-of-range index should fail")
	}
	if _, ok := a.remove(999, 1); ok {
		t.Fatal("remove() on out-of-range index should fail")
	}
}

func TestChannelIndexAndTransportHandle_ZeroValueInvalid(t *testing.T) {
	var ci ChannelIndex
	if ci.Valid() {
		t.Fatal("zero-value ChannelIndex should be invalid")
	}
	var th TransportHandle
	if th.Valid() {
		t.Fatal("zero-value TransportHandle should be invalid")
	}
}
