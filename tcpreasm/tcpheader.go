/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tcpreasm

import "github.com/gravwell/flowcore/bytespan"

// TCP flag bits, RFC 793 plus the ECN bits from RFC 3168 (unused by
// this engine but parsed so DataOffset math stays byte-exact).
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
	FlagECE uint8 = 1 << 6
	FlagCWR uint8 = 1 << 7
)

// Header is the subset of the TCP header (RFC 793) the reassembly
// engine needs. DataOffset is in 4-byte words, matching the wire field.
type Header struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8
	Flags      uint8
	Window     uint16
}

// HasFlag reports whether all bits in mask are set.
func (h Header) HasFlag(mask uint8) bool {
	return h.Flags&mask == mask
}

// ParseTCPHeader reads a TCP header from the start of payload. ok is
// false if payload is too short for even the fixed 20-byte header.
func ParseTCPHeader(payload []byte) (h Header, ok bool) {
	r := bytespan.New(payload)
	h.SrcPort = r.U16BE()
	h.DstPort = r.U16BE()
	h.Seq = r.U32BE()
	h.Ack = r.U32BE()
	offsetAndReserved := r.U8()
	h.DataOffset = offsetAndReserved >> 4
	h.Flags = r.U8()
	h.Window = r.U16BE()
	r.Skip(4) // checksum + urgent pointer
	if r.Err() {
		return Header{}, false
	}
	return h, true
}

// DataLen returns the number of payload bytes following the header,
// given the total payload length (header+data) for this packet. It
// returns a negative value for a malformed header whose DataOffset
// claims more bytes than the packet actually carries (§4.4.3
// "malformed: data_len < 0").
func (h Header) DataLen(payloadLen int) int {
	return payloadLen - 4*int(h.DataOffset)
}

// HeaderLen returns the data region's byte offset within payload.
func (h Header) HeaderLen() int {
	return 4 * int(h.DataOffset)
}
