/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package udpdispatch implements the UDP side of classification
// (§4.5). Unlike TCP, a UDP "session" has no handshake and no
// reassembly: every datagram is classified independently against the
// port and pattern registries until a classifier registers a
// per-session parser, after which that parser alone handles subsequent
// datagrams.
package udpdispatch

import (
	"github.com/gravwell/flowcore/bytespan"
	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

// Dispatcher runs the classifier registry against UDP datagrams. A
// single Dispatcher is shared process-wide, matching the registry's
// own read-only-after-startup discipline (§5).
type Dispatcher struct {
	Registry *classify.Registry
}

// NewDispatcher builds a Dispatcher over reg.
func NewDispatcher(reg *classify.Registry) *Dispatcher {
	return &Dispatcher{Registry: reg}
}

// Dispatch processes one UDP datagram for session s. pkt's payload is
// the UDP header (8 bytes: src port, dst port, length, checksum)
// followed by the datagram's own data.
//
// If s already has at least one registered parser, the data is handed
// directly to the parser list and the registries are not consulted
// again — a classifier had its chance on an earlier datagram and
// either declined or already attached a parser. Otherwise the full
// datagram data is run through the registries (not capped at a "first
// bytes" fingerprint: several UDP parsers, such as the NetFlow header
// and the legacy QUIC CHLO search, need bytes well past the first few).
func (d *Dispatcher) Dispatch(s *flowsession.State, host flowsession.Host, pkt *packet.Packet) {
	payload := pkt.Payload()
	r := bytespan.New(payload)
	srcPort := r.U16BE()
	dstPort := r.U16BE()
	r.Skip(4) // length + checksum
	if r.Err() {
		return
	}
	data := payload[r.Position():]
	if len(data) == 0 {
		return
	}

	dir := pkt.Direction
	if s.HasParsers() {
		s.DeliverRun(dir, data)
		return
	}
	if d.Registry != nil {
		d.Registry.RunUDP(s, host, data, dir, srcPort, dstPort)
	}
}
