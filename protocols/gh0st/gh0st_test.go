/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package gh0st

import (
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

func TestGh0stWindowsLengthEncoding(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 20)
	data[13] = 0x78
	data[14] = 0x9c
	data[7] = 0
	data[8] = 0
	// windows length = (data[6]<<8 | data[5]) == len(data) == 20
	data[6] = 0
	data[5] = 20

	var s flowsession.State
	host := &testHost{}
	reg.RunTCP(&s, host, data, packet.DirectionA, 1, 2)
	if len(host.protocols) == 0 || host.protocols[0] != "gh0st" {
		t.Fatalf("expected gh0st protocol, got %v", host.protocols)
	}
}

func TestGh0stFallbackMatch(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 15)
	data[7], data[8], data[11], data[12] = 0, 0, 0, 0
	data[13] = 0x78
	data[14] = 0x9c

	var s flowsession.State
	host := &testHost{}
	reg.RunTCP(&s, host, data, packet.DirectionA, 1, 2)
	if len(host.protocols) == 0 || host.protocols[0] != "gh0st" {
		t.Fatalf("expected gh0st protocol from fallback match, got %v", host.protocols)
	}
}

func TestGh0stRejectsShort(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 10)
	data[13%10] = 0x78
	var s flowsession.State
	host := &testHost{}
	reg.RunTCP(&s, host, data, packet.DirectionA, 1, 2)
	if len(host.protocols) != 0 {
		t.Fatalf("expected no protocol for short payload, got %v", host.protocols)
	}
}
