/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package quiclegacy implements best-effort CHLO extraction for the
// pre-IETF "gQUIC" versions (Q02x through Q048) plus the Facebook
// "fbzero" TCP variant (§4.6). None of these are encrypted the way the
// IETF Initial packet is: the Client Hello tag table sits in the clear
// (or, for Q02x-Q043, behind a thin stream-framing layer), so this
// package parses it directly rather than going through cryptofacade.
package quiclegacy

import (
	"bytes"

	"github.com/gravwell/flowcore/bytespan"
	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

const fbzeroMaxSize = 4096

type chloFields struct {
	HostField    fields.ID
	UAField      fields.ID
	VersionField fields.ID
}

// Register adds the legacy QUIC and fbzero classifiers to reg.
// hostField/uaField/versionField are the pre-resolved field ids for
// quic.host, quic.user-agent, and quic.version.
func Register(reg *classify.Registry, hostField, uaField, versionField fields.ID) {
	ud := chloFields{HostField: hostField, UAField: uaField, VersionField: versionField}

	// Q046-Q048: long-header form, CHLO found by brute-force scan.
	reg.RegisterPattern("quic", ud, classify.UDP, 1, []byte("Q04"), classify4648)
	// Q02x-Q043: stream-framed CHLO behind a packet-number/hash prefix
	// whose length depends on the advertised version.
	reg.RegisterPattern("quic", ud, classify.UDP, 9, []byte("Q04"), classify2445)
	reg.RegisterPattern("quic", ud, classify.UDP, 9, []byte("Q03"), classify2445)
	reg.RegisterPattern("quic", ud, classify.UDP, 9, []byte("Q02"), classify2445)
	// Q05x: headers are themselves encrypted: the best this classifier
	// can do is note that both directions of a session have spoken Q05x
	// and tag the session, without attempting a CHLO extraction.
	reg.RegisterPattern("quic", nil, classify.UDP, 1, []byte("Q05"), classify5x)
	// A bare public-reset packet on a 5-tuple that never otherwise spoke
	// QUIC is still worth tagging.
	reg.RegisterPattern("quic", nil, classify.UDP, 9, []byte("PRST"), classifyReset)

	// fbzero speaks its CHLO over a plain TCP byte stream rather than a
	// single UDP datagram, so it needs a stateful per-session parser
	// that accumulates bytes across deliveries before the tag table is
	// complete.
	reg.RegisterPattern("fbzero", ud, classify.TCP, 0, []byte("\x31QTV"), classifyFbzero)
}

func classify4648(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, userdata any) {
	ud, ok := userdata.(chloFields)
	if !ok || len(data) < 20 || data[1] != 'Q' || data[0]&0xc0 != 0xc0 {
		return
	}
	version := int(data[2]-'0')*100 + int(data[3]-'0')*10 + int(data[4]-'0')
	if version < 46 || version > 48 {
		return
	}
	for offset := 5; offset < len(data)-20; offset++ {
		if data[offset] == 'C' && bytes.Equal(data[offset:offset+4], []byte("CHLO")) {
			chloParser(s, host, ud, data[offset:])
			return
		}
	}
}

func classify2445(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, userdata any) {
	ud, ok := userdata.(chloFields)
	if !ok || len(data) < 9 {
		return
	}
	if data[0]&0x02 != 0 { // public reset
		return
	}
	offset := 1
	if data[0]&0x08 != 0 { // connection id present
		offset += 8
	}
	if len(data) < offset+5 {
		return
	}
	version := -1
	if data[0]&0x01 != 0 && data[offset] == 'Q' {
		version = int(data[offset+1]-'0')*100 + int(data[offset+2]-'0')*10 + int(data[offset+3]-'0')
		offset += 4
	}
	if version < 24 {
		return
	}
	if data[0]&0x30 == 0 {
		offset++
	} else {
		offset += int((data[0]&0x30)>>4) * 2
	}
	offset += 12 // diversification hash
	if version < 34 {
		offset++ // private flags
	}
	if offset > len(data) {
		return
	}

	r := bytespan.New(data[offset:])
	typ := r.U8()
	if r.Err() || typ&0x80 == 0 {
		return
	}
	offsetLen := 0
	if typ&0x1c != 0 {
		offsetLen = int((typ&0x1c)>>2) + 1
	}
	streamLen := int(typ&0x03) + 1
	r.Skip(streamLen + offsetLen)

	frameLen := r.Remaining()
	if typ&0x20 != 0 {
		frameLen = int(r.U16BE())
		if frameLen == 4 {
			// "Sometimes dataLen is BE, not sure why" — preserved
			// verbatim rather than fixed; see DESIGN.md.
			frameLen = 1024
		}
	}
	if r.Err() {
		return
	}
	frame := r.PeekPtr(frameLen)
	if len(frame) > r.Remaining() {
		frame = r.PeekPtr(r.Remaining())
	}
	chloParser(s, host, ud, frame)
}

// q5xState tracks which directions have been observed speaking Q05x;
// the header itself is encrypted so there is nothing more to extract.
type q5xState struct {
	which   uint8
	packets int
}

func classify5x(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 20 || !bytes.Equal(data[1:4], []byte("Q05")) {
		return
	}
	st := &q5xState{which: 1 << uint(dir)}
	s.RegisterParser(q5xParse(host), st, q5xFree)
}

func q5xParse(host flowsession.Host) flowsession.ParserFunc {
	return func(s *flowsession.State, userState any, data []byte, dir packet.Direction) flowsession.Verdict {
		st, ok := userState.(*q5xState)
		if !ok || len(data) < 20 || !bytes.Equal(data[1:4], []byte("Q05")) {
			return flowsession.Unregister
		}
		st.which |= 1 << uint(dir)
		if st.which == 0x3 {
			host.EmitProtocol(s, "quic")
			return flowsession.Unregister
		}
		st.packets++
		if st.packets > 20 {
			return flowsession.Unregister
		}
		return flowsession.Continue
	}
}

func q5xFree(any) {}

func classifyReset(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	host.EmitProtocol(s, "quic")
}

// chloParser parses a CHLO tag table: a 4-byte literal tag, a 2-byte
// count of sub-tags, 2 bytes of padding, then count*(4-byte sub-tag,
// 4-byte cumulative end-offset) directory entries, followed by the
// concatenated tag values the directory's offsets index into. SNI,
// UAID, and VER sub-tags are extracted into the fields named in §4.6;
// any other sub-tag is ignored.
// chloParser returns true once it has read a well-formed outer CHLO
// header (tag+count+padding), regardless of whether that tag actually
// reads "CHLO" — callers such as fbzero use this to decide whether the
// framing itself was sound enough to add a more specific protocol tag.
func chloParser(s *flowsession.State, host flowsession.Host, ud chloFields, data []byte) bool {
	r := bytespan.New(data)
	tag := r.PeekPtr(4)
	r.Skip(4)
	tagCount := r.U16BE()
	r.Skip(2)
	if r.Err() || len(tag) != 4 {
		return false
	}
	host.EmitProtocol(s, "quic")
	if !bytes.Equal(tag, []byte("CHLO")) {
		return true
	}

	tableSize := int(tagCount)*8 + 8
	if tableSize > len(data) {
		return true
	}
	valuesStart := tableSize
	valuesLen := len(data) - tableSize
	start := 0
	for i := 0; i < int(tagCount); i++ {
		subTag := r.PeekPtr(4)
		r.Skip(4)
		end := int(r.U32BE())
		if r.Err() || len(subTag) != 4 {
			return true
		}
		if end > valuesLen || start > valuesLen || start >= end {
			return true
		}
		val := data[valuesStart+start : valuesStart+end]
		switch {
		case bytes.Equal(subTag, []byte("SNI\x00")):
			if ud.HostField != fields.Invalid {
				host.EmitField(s, ud.HostField, val, true)
			}
		case bytes.Equal(subTag, []byte("UAID")):
			if ud.UAField != fields.Invalid {
				host.EmitField(s, ud.UAField, val, true)
			}
		case bytes.Equal(subTag, []byte("VER\x00")):
			if ud.VersionField != fields.Invalid {
				host.EmitField(s, ud.VersionField, val, true)
			}
		}
		start = end
	}
	return true
}

// fbzeroState accumulates TCP bytes across deliveries until enough of
// the length-prefixed CHLO frame has arrived.
type fbzeroState struct {
	buf [fbzeroMaxSize]byte
	pos int
	ud  chloFields
}

func classifyFbzero(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, userdata any) {
	ud, ok := userdata.(chloFields)
	if !ok || dir != packet.DirectionA || len(data) <= 13 {
		return
	}
	st := &fbzeroState{ud: ud}
	s.RegisterParser(fbzeroParse(host), st, fbzeroFree)
}

// fbzeroParse returns the stateful parser fbzero's classifier
// registers. It is called once per subsequent byte run on the client
// direction, appending to its internal buffer until the length prefix
// at bytes 5-6 says the CHLO frame (which starts at byte 9) is
// complete (§4.6, §9 "analogous to" the UDP CHLO tag-table parser).
func fbzeroParse(host flowsession.Host) flowsession.ParserFunc {
	return func(s *flowsession.State, userState any, data []byte, dir packet.Direction) flowsession.Verdict {
		if dir != packet.DirectionA {
			return flowsession.Continue
		}
		st, ok := userState.(*fbzeroState)
		if !ok {
			return flowsession.Unregister
		}
		room := fbzeroMaxSize - st.pos
		if room <= 0 {
			return flowsession.Unregister
		}
		n := len(data)
		if n > room {
			n = room
		}
		copy(st.buf[st.pos:], data[:n])
		st.pos += n

		if st.pos < 7 {
			return flowsession.Continue
		}
		frameLen := int(st.buf[6])<<8 | int(st.buf[5])
		if st.pos < frameLen+9 {
			return flowsession.Continue
		}

		end := 9 + frameLen
		if end > st.pos {
			end = st.pos
		}
		if chloParser(s, host, st.ud, st.buf[9:end]) {
			host.EmitProtocol(s, "fbzero")
		}
		return flowsession.Unregister
	}
}

func fbzeroFree(any) {}
