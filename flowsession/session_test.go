/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package flowsession

import (
	"testing"

	"github.com/gravwell/flowcore/packet"
)

func TestRegisterParserOrderAndDelivery(t *testing.T) {
	var s State
	var order []int
	mk := func(id int, v Verdict) ParserFunc {
		return func(_ *State, _ any, _ []byte, _ packet.Direction) Verdict {
			order = append(order, id)
			return v
		}
	}
	s.RegisterParser(mk(1, Continue), nil, nil)
	s.RegisterParser(mk(2, Continue), nil, nil)
	s.RegisterParser(mk(3, Continue), nil, nil)

	s.DeliverRun(packet.DirectionA, []byte("x"))
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestUnregisterRemovesAndFrees(t *testing.T) {
	var s State
	freed := false
	s.RegisterParser(func(_ *State, _ any, _ []byte, _ packet.Direction) Verdict {
		return Unregister
	}, nil, func(any) { freed = true })

	s.DeliverRun(packet.DirectionA, []byte("a"))
	if !freed {
		t.Fatal("expected free func to run on unregister")
	}
	if s.HasParsers() {
		t.Fatal("expected parser list empty after unregister")
	}

	// second delivery should not touch the removed entry
	s.DeliverRun(packet.DirectionA, []byte("b"))
}

func TestUnregisterMidListKeepsTraversalSafe(t *testing.T) {
	var s State
	var calls []int
	s.RegisterParser(func(_ *State, _ any, _ []byte, _ packet.Direction) Verdict {
		calls = append(calls, 1)
		return Unregister
	}, nil, nil)
	s.RegisterParser(func(_ *State, _ any, _ []byte, _ packet.Direction) Verdict {
		calls = append(calls, 2)
		return Continue
	}, nil, nil)

	s.DeliverRun(packet.DirectionA, []byte("x"))
	if len(calls) != 2 {
		t.Fatalf("expected both parsers to run once, got %v", calls)
	}
	s.DeliverRun(packet.DirectionA, []byte("y"))
	if len(calls) != 3 {
		t.Fatalf("expected only surviving parser to run again, got %v", calls)
	}
}

func TestFreeAllParsersOnTeardown(t *testing.T) {
	var s State
	freedCount := 0
	s.RegisterParser(func(*State, any, []byte, packet.Direction) Verdict { return Continue }, nil, func(any) { freedCount++ })
	s.RegisterParser(func(*State, any, []byte, packet.Direction) Verdict { return Continue }, nil, func(any) { freedCount++ })
	s.FreeAllParsers()
	if freedCount != 2 {
		t.Fatalf("expected 2 frees, got %d", freedCount)
	}
	if s.HasParsers() {
		t.Fatal("expected empty list after teardown")
	}
}

func TestParserPanicConvertsToUnregister(t *testing.T) {
	var s State
	freed := false
	s.RegisterParser(func(*State, any, []byte, packet.Direction) Verdict {
		panic("boom")
	}, nil, func(any) { freed = true })
	s.DeliverRun(packet.DirectionA, []byte("x"))
	if s.HasParsers() {
		t.Fatal("panicking parser should be unregistered")
	}
	if !freed {
		t.Fatal("expected free func to run after panic recovery")
	}
}

func TestAppendFirstBytesCapsAtEight(t *testing.T) {
	var s State
	s.AppendFirstBytes(packet.DirectionA, []byte("hello"))
	s.AppendFirstBytes(packet.DirectionA, []byte("world!!!"))
	if s.FirstBytesLen[packet.DirectionA] != 8 {
		t.Fatalf("expected 8, got %d", s.FirstBytesLen[packet.DirectionA])
	}
	if got := string(s.FirstBytes[packet.DirectionA][:8]); got != "hellowor" {
		t.Fatalf("unexpected first bytes %q", got)
	}
}

func TestFreshForClassification(t *testing.T) {
	var s State
	if !s.FreshForClassification(packet.DirectionA) {
		t.Fatal("expected fresh at zero state")
	}
	s.TotalDelivered[packet.DirectionA] = 5
	if s.FreshForClassification(packet.DirectionA) {
		t.Fatal("expected not-fresh once delivered outran consumed")
	}
	s.ConsumedByParsers[packet.DirectionA] = 5
	if !s.FreshForClassification(packet.DirectionA) {
		t.Fatal("expected fresh again once consumed caught up")
	}
}
