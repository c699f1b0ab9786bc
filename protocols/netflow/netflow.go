/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package netflow implements the NetFlow v5/v7/v9 header-validation
// classifier (§4.6). Unlike the teacher's standalone NetFlow v5
// ingester, this package does not decode flow records: it only
// validates that a UDP datagram's first bytes look like a plausible
// NetFlow export header, the same light touch the rest of the
// classification registry applies to every other protocol.
package netflow

import (
	"github.com/gravwell/flowcore/bytespan"
	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

const minSystimeSeconds = 1000000000 // Sep 2001

// Register adds the NetFlow v5/v7/v9 header classifiers to reg, one
// per version pattern at offset 0.
func Register(reg *classify.Registry) {
	reg.RegisterPattern("netflow", nil, classify.UDP, 0, []byte{0x00, 0x05}, classifyPayload)
	reg.RegisterPattern("netflow", nil, classify.UDP, 0, []byte{0x00, 0x07}, classifyPayload)
	reg.RegisterPattern("netflow", nil, classify.UDP, 0, []byte{0x00, 0x09}, classifyPayload)
}

func classifyPayload(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if s.Endpoints[0].Port == 53 || s.Endpoints[1].Port == 53 || len(data) < 24 {
		return
	}

	r := bytespan.New(data)
	r.Skip(2) // version
	count := r.U16BE()
	r.Skip(4) // sys_uptime
	systime := r.U32BE()
	if r.Err() {
		return
	}

	if count == 0 || count > 200 || int(count)*16 > len(data) || systime < minSystimeSeconds {
		return
	}
	host.EmitProtocol(s, "netflow")
}
