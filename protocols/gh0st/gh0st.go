/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package gh0st implements the gh0st RAT classifier (§4.6, §9). The
// source carries a Windows/Mac endianness branch for the embedded
// length field, plus a second, looser fallback match that does not
// require the length to agree with the packet size at all. Both are
// preserved: neither is "the real" check, both fire independently.
package gh0st

import (
	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

// Register adds the gh0st classifier to reg.
func Register(reg *classify.Registry) {
	reg.RegisterPattern("gh0st", nil, classify.TCP, 13, []byte{0x78}, classifyPayload)
}

func classifyPayload(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 15 {
		return
	}

	if data[13] == 0x78 && data[14] == 0x9c {
		windows := data[8] == 0 && data[7] == 0 && (uint32(data[6])<<8|uint32(data[5])) == uint32(len(data))
		mac := data[5] == 0 && data[6] == 0 && (uint32(data[7])<<8|uint32(data[8])) == uint32(len(data))
		if windows || mac {
			host.EmitProtocol(s, "gh0st")
		}
	}

	if data[7] == 0 && data[8] == 0 && data[11] == 0 && data[12] == 0 && data[13] == 0x78 && data[14] == 0x9c {
		host.EmitProtocol(s, "gh0st")
	}
}
