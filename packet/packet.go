/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package packet defines the input contract handed to the reassembly
// and dispatch engines. Packet capture from NICs/PCAPs and IP/VLAN
// decoding happen entirely outside this module; callers are expected to
// decode down to a Packet before calling into tcpreasm or udpdispatch.
package packet

// Direction identifies which side of a bidirectional session a packet
// belongs to, as determined by the caller at session bootstrap.
type Direction uint8

const (
	DirectionA Direction = 0
	DirectionB Direction = 1
)

// Other returns the opposite direction.
func (d Direction) Other() Direction {
	return d ^ 1
}

// Packet is an externally-owned record describing one IP-layer payload
// (TCP or UDP segment, header included) along with the bookkeeping the
// reassembly engine needs. Buf is the full capture buffer; PayloadOffset
// and PayloadLen bound the TCP/UDP header+data region within it.
//
// Ownership: the caller owns Buf until the packet is handed to
// tcpreasm.Engine.Process or udpdispatch.Dispatcher.Dispatch. Process
// returns a freeMe bool telling the caller whether it must free the
// packet immediately (it was dropped or fully consumed) or whether the
// engine retained a reference (queued for reassembly) and will signal
// ownership transfer later via the queue drain. Dispatch returns
// nothing and never queues the packet.
type Packet struct {
	Buf           []byte
	IPOffset      int
	PayloadOffset int
	PayloadLen    int
	Direction     Direction
	TimestampUS   int64
	VLAN          uint32
	VNI           uint32
	IsIPv6        bool
}

// Payload returns the TCP/UDP header+data region of the packet.
func (p *Packet) Payload() []byte {
	if p.PayloadOffset < 0 || p.PayloadLen < 0 || p.PayloadOffset+p.PayloadLen > len(p.Buf) {
		return nil
	}
	return p.Buf[p.PayloadOffset : p.PayloadOffset+p.PayloadLen]
}

// Valid reports whether the packet's offsets are consistent with its
// backing buffer, per the §3.1 invariant.
func (p *Packet) Valid() bool {
	return p.PayloadOffset >= 0 && p.PayloadLen >= 0 && p.PayloadOffset+p.PayloadLen <= len(p.Buf)
}
