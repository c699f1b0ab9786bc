/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package rdp implements the RDP cookie classifier (§4.6): an RDP
// Connection Request carries an optional mstshash cookie that names the
// terminal services username before any TLS handshake happens.
package rdp

import (
	"bytes"

	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

var cookiePrefix = []byte("Cookie: mstshash=")

// Register adds the RDP classifier to reg. userField is the pre-resolved
// field id for "user"; callers typically obtain it once at startup via
// fields.Registry.FieldByName(fields.NameUser).
func Register(reg *classify.Registry, userField fields.ID) {
	reg.RegisterPattern("rdp", userField, classify.TCP, 0, []byte{0x03, 0x00}, classifyPayload)
}

func classifyPayload(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, userdata any) {
	if len(data) <= 5 || int(data[3]) > len(data) || data[4] != data[3]-5 || data[5] != 0xe0 {
		return
	}
	host.EmitProtocol(s, "rdp")

	if len(data) <= 30 || !bytes.Equal(data[11:28], cookiePrefix) {
		return
	}
	end := bytes.Index(data[28:], []byte("\r\n"))
	if end < 0 {
		return
	}
	id, ok := userdata.(fields.ID)
	if !ok || id == fields.Invalid {
		return
	}
	host.EmitFieldLowercase(s, id, data[28:28+end])
}
