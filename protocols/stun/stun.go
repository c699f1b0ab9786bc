/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package stun implements the STUN classifiers (§4.6, §9). The UDP
// classifier's second branch (reading data[23]) does not correspond to
// any framing in RFC 5389; it is preserved byte-for-byte rather than
// "corrected," matching an ambiguity the source itself carries.
package stun

import (
	"bytes"

	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

var magicCookie = []byte{0x21, 0x12, 0xa4, 0x42}

// Register adds the STUN classifiers to reg: the UDP magic-cookie and
// legacy length checks, and the TCP/UDP "RSP/" framed variant.
func Register(reg *classify.Registry) {
	reg.RegisterPattern("stun", nil, classify.UDP, 0, []byte{0x00, 0x01, 0x00}, classifyUDP)
	reg.RegisterPattern("stun", nil, classify.UDP, 0, []byte{0x00, 0x03, 0x00}, classifyUDP)
	reg.RegisterPattern("stun", nil, classify.UDP, 0, []byte{0x01, 0x01, 0x00}, classifyUDP)

	reg.RegisterPattern("stun", nil, classify.TCP, 0, []byte("RSP/"), classifyRSP)
	reg.RegisterPattern("stun", nil, classify.UDP, 0, []byte("RSP/"), classifyRSP)
}

func classifyUDP(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 20 || 20+int(data[3]) != len(data) {
		return
	}

	if bytes.Equal(data[4:8], magicCookie) {
		host.EmitProtocol(s, "stun")
		return
	}

	if data[1] == 1 && len(data) > 25 && int(data[23])+24 == len(data) {
		host.EmitProtocol(s, "stun")
		return
	}
}

func classifyRSP(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) <= 7 {
		return
	}
	if bytes.Contains(data[7:], []byte("STUN")) {
		host.EmitProtocol(s, "stun")
	}
}
