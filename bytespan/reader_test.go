/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package bytespan

import "testing"

func TestReaderBasic(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0xAA, 0xBB, 0xCC, 0xDD}
	r := New(buf)
	if v := r.U8(); v != 0x01 {
		t.Fatalf("U8 got %x", v)
	}
	if v := r.U16BE(); v != 0x0203 {
		t.Fatalf("U16BE got %x", v)
	}
	if v := r.U16LE(); v != 0x0504 {
		t.Fatalf("U16LE got %x", v)
	}
	if v := r.U32BE(); v != 0xAABBCCDD {
		t.Fatalf("U32BE got %x", v)
	}
	if r.Err() {
		t.Fatal("unexpected error flag")
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected 0 remaining, got %d", r.Remaining())
	}
}

func TestReaderOverrun(t *testing.T) {
	r := New([]byte{0x01, 0x02})
	r.U32BE()
	if !r.Err() {
		t.Fatal("expected error flag after overrun")
	}
	if v := r.U8(); v != 0 {
		t.Fatalf("overrun read should yield zero, got %x", v)
	}
}

func TestReaderSubAndRewind(t *testing.T) {
	buf := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	r := New(buf)
	r.Skip(2)
	sub := r.Sub(3)
	if sub.Err() {
		t.Fatal("sub reader should not be in error state")
	}
	if v := sub.U8(); v != 2 {
		t.Fatalf("sub U8 got %d", v)
	}
	if r.Position() != 5 {
		t.Fatalf("parent position should advance past sub span, got %d", r.Position())
	}
	r.Rewind(2)
	if r.Position() != 3 {
		t.Fatalf("rewind failed, position %d", r.Position())
	}
}

func TestReaderSubUnderrun(t *testing.T) {
	r := New([]byte{1, 2})
	sub := r.Sub(5)
	if !sub.Err() {
		t.Fatal("expected sub reader underrun to set error")
	}
	if !r.Err() {
		t.Fatal("expected parent reader to carry the error too")
	}
}

func TestReaderPeekPtr(t *testing.T) {
	r := New([]byte{9, 8, 7, 6})
	p := r.PeekPtr(2)
	if len(p) != 2 || p[0] != 9 || p[1] != 8 {
		t.Fatalf("unexpected peek %v", p)
	}
	if r.Position() != 0 {
		t.Fatal("peek must not advance cursor")
	}
}
