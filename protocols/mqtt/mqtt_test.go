/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package mqtt

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
	fieldVal  []byte
}

func (h *testHost) EmitProtocol(_ *flowsession.State, name string) { h.protocols = append(h.protocols, name) }
func (h *testHost) EmitFieldLowercase(_ *flowsession.State, _ fields.ID, data []byte) {
	h.fieldVal = append([]byte(nil), data...)
}
func (h *testHost) EmitField(*flowsession.State, fields.ID, []byte, bool) {}
func (h *testHost) MarkForClose(*flowsession.State)                      {}
func (h *testHost) AddTag(*flowsession.State, string)                    {}

const userFieldID fields.ID = 3

func buildConnect(username string) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, 0x10, 0x00) // fixed header, remaining length (unused by classifier)

	name := "MQTT"
	buf = appendU16(buf, uint16(len(name)))
	buf = append(buf, name...)

	buf = append(buf, 4) // protocol level
	buf = append(buf, 0x80) // flags: username only

	buf = appendU16(buf, 60) // keep alive

	clientID := "client1"
	buf = appendU16(buf, uint16(len(clientID)))
	buf = append(buf, clientID...)

	buf = appendU16(buf, uint16(len(username)))
	buf = append(buf, username...)

	for len(buf) < 30 {
		buf = append(buf, 0)
	}
	return buf
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func TestMQTTConnectExtractsUsername(t *testing.T) {
	reg := classify.New()
	Register(reg, userFieldID)

	payload := buildConnect("alice")
	var s flowsession.State
	host := &testHost{}
	reg.RunTCP(&s, host, payload, packet.DirectionA, 1883, 54321)

	if len(host.protocols) != 1 || host.protocols[0] != "mqtt" {
		t.Fatalf("expected protocol mqtt, got %v", host.protocols)
	}
	if string(host.fieldVal) != "alice" {
		t.Fatalf("expected username alice, got %q", host.fieldVal)
	}
}

func TestMQTTRejectsShortOrWrongName(t *testing.T) {
	reg := classify.New()
	Register(reg, userFieldID)

	payload := make([]byte, 10)
	payload[0] = 0x10
	var s flowsession.State
	host := &testHost{}
	reg.RunTCP(&s, host, payload, packet.DirectionA, 1883, 1)
	if len(host.protocols) != 0 {
		t.Fatalf("expected no protocol on short payload, got %v", host.protocols)
	}
}
