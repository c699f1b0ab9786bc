/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tcpreasm

import (
	"encoding/binary"
	"net"
)

// IDLen is the fixed width of a session id produced by SessionID: two
// 16-byte addresses (an IPv4 address fills the first 4 bytes, the rest
// zero), two 2-byte ports, VLAN, and VNI.
const IDLen = 44

// SessionID writes a canonical, direction-independent session key into
// buf (§6.2 tcp_create_session_id): the two endpoints in a fixed order
// (lower address/port tuple first) so a session is keyed the same way
// regardless of which side's packet arrives first, plus VLAN and VNI so
// overlapping private address space across tunnels doesn't collide.
// buf must be at least IDLen bytes; SessionID panics otherwise, since a
// mismatched buffer is a caller programming error (§7 "invariant
// violation"), not a runtime condition to recover from.
func SessionID(buf []byte, srcIP, dstIP net.IP, srcPort, dstPort uint16, vlan, vni uint32) {
	if len(buf) < IDLen {
		panic("tcpreasm: SessionID buffer too small")
	}
	a, aPort, b, bPort := srcIP, srcPort, dstIP, dstPort
	if tupleLess(b, bPort, a, aPort) {
		a, aPort, b, bPort = b, bPort, a, aPort
	}
	off := 0
	off += copyIP(buf[off:], a)
	binary.BigEndian.PutUint16(buf[off:], aPort)
	off += 2
	off += copyIP(buf[off:], b)
	binary.BigEndian.PutUint16(buf[off:], bPort)
	off += 2
	binary.BigEndian.PutUint32(buf[off:], vlan)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], vni)
}

func copyIP(dst []byte, ip net.IP) int {
	v4 := ip.To4()
	if v4 != nil {
		copy(dst, v4)
		copy(dst[4:16], make([]byte, 12))
		return 16
	}
	v6 := ip.To16()
	if v6 == nil {
		copy(dst[:16], make([]byte, 16))
		return 16
	}
	copy(dst, v6)
	return 16
}

func tupleLess(aIP net.IP, aPort uint16, bIP net.IP, bPort uint16) bool {
	c := ipCompare(aIP, bIP)
	if c != 0 {
		return c < 0
	}
	return aPort < bPort
}

func ipCompare(a, b net.IP) int {
	a16, b16 := a.To16(), b.To16()
	for i := 0; i < 16 && i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			return int(a16[i]) - int(b16[i])
		}
	}
	return 0
}
