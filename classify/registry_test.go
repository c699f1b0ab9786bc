/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package classify

import (
	"testing"

	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

func TestRegisterPatternFiresOnMatch(t *testing.T) {
	reg := New()
	fired := 0
	reg.RegisterPattern("pop3", nil, TCP, 0, []byte("+OK"), func(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, userdata any) {
		fired++
		host.EmitProtocol(s, "pop3")
	})

	var s flowsession.State
	host := &testHost{}
	reg.RunTCP(&s, host, []byte("+OK POP3 ready"), packet.DirectionA, 110, 4444)
	if fired != 1 {
		t.Fatalf("expected classifier to fire once, got %d", fired)
	}
	if len(host.protocols) != 1 || host.protocols[0] != "pop3" {
		t.Fatalf("unexpected protocols %v", host.protocols)
	}
}

func TestRegisterPatternOffsetMismatchDoesNotFire(t *testing.T) {
	reg := New()
	fired := 0
	reg.RegisterPattern("x", nil, TCP, 4, []byte("abc"), func(*flowsession.State, flowsession.Host, []byte, packet.Direction, any) {
		fired++
	})
	var s flowsession.State
	reg.RunTCP(&s, &testHost{}, []byte("zzzzdef"), packet.DirectionA, 1, 2)
	if fired != 0 {
		t.Fatal("expected no fire on mismatched pattern")
	}
}

func TestRegisterPatternShortDataDoesNotFire(t *testing.T) {
	reg := New()
	fired := 0
	reg.RegisterPattern("x", nil, TCP, 0, []byte("abcdef"), func(*flowsession.State, flowsession.Host, []byte, packet.Direction, any) {
		fired++
	})
	var s flowsession.State
	reg.RunTCP(&s, &testHost{}, []byte("ab"), packet.DirectionA, 1, 2)
	if fired != 0 {
		t.Fatal("expected no fire when first-seen data is shorter than offset+pattern")
	}
}

func TestMultiplePatternsFireIndependently(t *testing.T) {
	reg := New()
	var fired []string
	reg.RegisterPattern("a", nil, TCP, 0, []byte("X"), func(*flowsession.State, flowsession.Host, []byte, packet.Direction, any) {
		fired = append(fired, "a")
	})
	reg.RegisterPattern("b", nil, TCP, 0, []byte("X"), func(*flowsession.State, flowsession.Host, []byte, packet.Direction, any) {
		fired = append(fired, "b")
	})
	var s flowsession.State
	reg.RunTCP(&s, &testHost{}, []byte("X"), packet.DirectionA, 1, 2)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("expected both classifiers to fire in registration order, got %v", fired)
	}
}

func TestPortRegistrationSymmetry(t *testing.T) {
	reg := New()
	var dstFired, eitherFired int
	reg.RegisterPort("dst", nil, TCPDstPort, 443, func(*flowsession.State, flowsession.Host, []byte, packet.Direction, any) {
		dstFired++
	})
	reg.RegisterPort("either", nil, TCPEitherPort, 443, func(*flowsession.State, flowsession.Host, []byte, packet.Direction, any) {
		eitherFired++
	})
	var s flowsession.State
	// src=443, dst=9999: TCPDstPort should not fire, TCPEitherPort should.
	reg.RunTCP(&s, &testHost{}, nil, packet.DirectionA, 443, 9999)
	if dstFired != 0 {
		t.Fatal("TCPDstPort must not fire when only the source matches")
	}
	if eitherFired != 1 {
		t.Fatal("TCPEitherPort must fire when the source matches")
	}
}

func TestClassifierPanicDoesNotPropagate(t *testing.T) {
	reg := New()
	reg.RegisterPattern("boom", nil, TCP, 0, []byte("X"), func(*flowsession.State, flowsession.Host, []byte, packet.Direction, any) {
		panic("nope")
	})
	var s flowsession.State
	reg.RunTCP(&s, &testHost{}, []byte("X"), packet.DirectionA, 1, 2) // must not panic the test
}

// testHost is a minimal flowsession.Host for registry tests.
type testHost struct {
	protocols []string
	tags      []string
}

func (h *testHost) EmitProtocol(_ *flowsession.State, name string) { h.protocols = append(h.protocols, name) }
func (h *testHost) EmitFieldLowercase(*flowsession.State, fields.ID, []byte)  {}
func (h *testHost) EmitField(*flowsession.State, fields.ID, []byte, bool)     {}
func (h *testHost) MarkForClose(*flowsession.State)                          {}
func (h *testHost) AddTag(_ *flowsession.State, tag string)                  { h.tags = append(h.tags, tag) }
