/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package isakmp implements the ISAKMP/IKE port classifier (§4.6, §9).
// The accepted version byte set includes 0x02, which is not a version
// ISAKMP ever defines; it is preserved rather than narrowed.
package isakmp

import (
	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

// Register adds the ISAKMP UDP port classifier to reg for the two
// conventional IKE ports.
func Register(reg *classify.Registry) {
	reg.RegisterPort("isakmp", nil, classify.UDPPort, 500, classifyPayload)
	reg.RegisterPort("isakmp", nil, classify.UDPPort, 4500, classifyPayload)
}

func classifyPayload(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 18 {
		return
	}
	switch data[16] {
	case 1, 8, 33, 46:
	default:
		return
	}
	switch data[17] {
	case 0x10, 0x20, 0x02:
	default:
		return
	}
	host.EmitProtocol(s, "isakmp")
}
