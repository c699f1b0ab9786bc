/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package netflow

import (
	"encoding/binary"
	"testing"

	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

type testHost struct {
	protocols []string
}

func (h *testHost) EmitProtocol(_ *flowsession.State, name string)           { h.protocols = append(h.protocols, name) }
func (h *testHost) EmitFieldLowercase(*flowsession.State, fields.ID, []byte) {}
func (h *testHost) EmitField(*flowsession.State, fields.ID, []byte, bool)    {}
func (h *testHost) MarkForClose(*flowsession.State)                         {}
func (h *testHost) AddTag(*flowsession.State, string)                       {}

func buildV5Header(count uint16, systime uint32) []byte {
	buf := make([]byte, 24)
	binary.BigEndian.PutUint16(buf[0:], 5)
	binary.BigEndian.PutUint16(buf[2:], count)
	binary.BigEndian.PutUint32(buf[8:], systime)
	return buf
}

func TestNetflowAcceptsValidV5Header(t *testing.T) {
	reg := classify.New()
	Register(reg)

	var s flowsession.State
	s.Endpoints[0].Port = 55000
	s.Endpoints[1].Port = 2055
	host := &testHost{}
	data := buildV5Header(1, 1700000000)
	reg.RunUDP(&s, host, data, packet.DirectionA, 55000, 2055)

	if len(host.protocols) != 1 || host.protocols[0] != "netflow" {
		t.Fatalf("expected protocol netflow, got %v", host.protocols)
	}
}

func TestNetflowRejectsPort53(t *testing.T) {
	reg := classify.New()
	Register(reg)

	var s flowsession.State
	s.Endpoints[0].Port = 53
	s.Endpoints[1].Port = 2055
	host := &testHost{}
	data := buildV5Header(1, 1700000000)
	reg.RunUDP(&s, host, data, packet.DirectionA, 53, 2055)

	if len(host.protocols) != 0 {
		t.Fatalf("expected no protocol when port is 53, got %v", host.protocols)
	}
}

func TestNetflowRejectsBadCountAndTime(t *testing.T) {
	reg := classify.New()
	Register(reg)

	var s flowsession.State
	s.Endpoints[1].Port = 2055
	host := &testHost{}

	tooOld := buildV5Header(1, 500)
	reg.RunUDP(&s, host, tooOld, packet.DirectionA, 1000, 2055)
	if len(host.protocols) != 0 {
		t.Fatal("expected rejection for systime before the epoch floor")
	}

	tooManyFlows := buildV5Header(201, 1700000000)
	reg.RunUDP(&s, host, tooManyFlows, packet.DirectionA, 1000, 2055)
	if len(host.protocols) != 0 {
		t.Fatal("expected rejection for count > 200")
	}

	zeroCount := buildV5Header(0, 1700000000)
	reg.RunUDP(&s, host, zeroCount, packet.DirectionA, 1000, 2055)
	if len(host.protocols) != 0 {
		t.Fatal("expected rejection for count == 0")
	}
}
