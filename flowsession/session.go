/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package flowsession holds the data model for a single bidirectional
// session as the reassembly and dispatch engines see it. A Session is
// opaque to its owner (the host application allocates and frees it, and
// decides how it is keyed and looked up) but the core reads and writes
// a fixed set of slots on State directly, as described in §3.2 of the
// design. Host applications are expected to embed State by value inside
// their own richer session record.
package flowsession

import (
	"net"

	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/packet"
)

// TCPState is the per-direction TCP close state machine (§4.7.1).
type TCPState uint8

const (
	TCPOpen TCPState = iota
	TCPFinSeen
	TCPFinAcked
)

// Endpoint is one side of a session's 5-tuple.
type Endpoint struct {
	Addr net.IP
	Port uint16
}

// Counters tracks the per-flag-kind totals §3.2 requires for
// diagnostics. PerDirAck saturates at 255 per the spec's explicit
// overflow behavior for the pure-ACK counter.
type Counters struct {
	SYN        uint32
	SYNACK     uint32
	ACK        uint32
	PSH        uint32
	FIN        uint32
	RST        uint32
	URG        uint32
	SrcZeroWin uint32
	DstZeroWin uint32
	PerDirAck  [2]uint8
}

// Verdict is returned by a registered parser after each invocation.
type Verdict uint8

const (
	Continue Verdict = iota
	Unregister
)

// ParserFunc is a per-session stateful parser registered by a
// classifier. It receives the session, its own opaque state, the
// byte-run being delivered, and the direction it arrived on.
type ParserFunc func(s *State, userState any, data []byte, dir packet.Direction) Verdict

// FreeFunc releases a parser's opaque state at UNREGISTER time or
// session teardown.
type FreeFunc func(userState any)

// parserEntry is a node in the per-session parser list (§3.4, §4.3).
// It is intentionally unexported: the list's invariants (forward-only
// traversal, safe self-unregistration) are owned entirely by this
// package rather than exposed as a mutable public structure.
type parserEntry struct {
	parse ParserFunc
	state any
	free  FreeFunc
	next  *parserEntry
}

// PendingSegment is a queued, not-yet-deliverable TCP segment (§3.3).
// The reassembly engine in package tcpreasm owns the ordering and
// draining rules; this package only owns storage and the intrusive
// links, since the segment's lifetime is tied to the session.
type PendingSegment struct {
	Pkt        *packet.Packet
	Direction  packet.Direction
	Seq        uint32
	Ack        uint32
	Len        int
	DataOffset int
	Next       *PendingSegment
	Prev       *PendingSegment
}

// Data returns the segment's payload bytes, borrowed from the owning
// packet's buffer.
func (p *PendingSegment) Data() []byte {
	if p == nil || p.Pkt == nil {
		return nil
	}
	buf := p.Pkt.Buf
	if p.DataOffset < 0 || p.Len < 0 || p.DataOffset+p.Len > len(buf) {
		return nil
	}
	return buf[p.DataOffset : p.DataOffset+p.Len]
}

// State is the fixed slot set the core reads and writes on a session
// (§3.2). The host allocates and owns the memory (typically by
// embedding State by value in its own session struct); this package
// never allocates or frees a State itself.
type State struct {
	Endpoints [2]Endpoint

	HasTCPHandshakeSeen bool
	ExpectedSeq         [2]uint32
	TotalDelivered       [2]uint64
	ConsumedByParsers    [2]uint64
	FirstBytes           [2][8]byte
	FirstBytesLen        [2]uint8
	SynSet               uint8 // bit 0 = dir A seen, bit 1 = dir B seen
	TCPState             [2]TCPState
	Counters             Counters
	TCPFlagsUnion        uint8
	SynTimeUS            int64
	AckTimeUS            int64
	OutOfOrderTagged     uint8 // per-direction bit
	AckedUnseenTagged    uint8 // per-direction bit

	ClosePending bool
	StopTCP      bool
	StopSPI      bool

	QueueHead *PendingSegment
	QueueTail *PendingSegment
	QueueLen  int

	parserHead *parserEntry
}

// RegisterParser appends a new stateful parser to the session's parser
// list (§3.4, §6.2 register_parser). Classifiers call this from within
// their classify callback.
func (s *State) RegisterParser(parse ParserFunc, userState any, free FreeFunc) {
	entry := &parserEntry{parse: parse, state: userState, free: free}
	if s.parserHead == nil {
		s.parserHead = entry
		return
	}
	cur := s.parserHead
	for cur.next != nil {
		cur = cur.next
	}
	cur.next = entry
}

// HasParsers reports whether any parser is currently registered.
func (s *State) HasParsers() bool {
	return s.parserHead != nil
}

// DeliverRun walks the parser list in registration order, invoking each
// with the byte run. A parser returning Unregister is unlinked and its
// free function invoked immediately; the traversal never dereferences
// an unregistered entry again (§4.3's reentrancy requirement).
func (s *State) DeliverRun(dir packet.Direction, data []byte) {
	var prev *parserEntry
	cur := s.parserHead
	for cur != nil {
		next := cur.next // captured before the call: cur may be freed below
		verdict := safeParse(cur.parse, s, cur.state, data, dir)
		if verdict == Unregister {
			if prev == nil {
				s.parserHead = next
			} else {
				prev.next = next
			}
			safeFree(cur.free, cur.state)
		} else {
			prev = cur
		}
		cur = next
	}
}

// FreeAllParsers runs every remaining parser's free function. Called on
// session teardown (§4.3, §4.7.3).
func (s *State) FreeAllParsers() {
	cur := s.parserHead
	for cur != nil {
		safeFree(cur.free, cur.state)
		cur = cur.next
	}
	s.parserHead = nil
}

// AppendFirstBytes records up to the first 8 bytes ever delivered in a
// direction, used as a classification fingerprint (§4.4.5, glossary
// "first bytes").
func (s *State) AppendFirstBytes(dir packet.Direction, data []byte) {
	n := int(s.FirstBytesLen[dir])
	if n >= len(s.FirstBytes[dir]) {
		return
	}
	room := len(s.FirstBytes[dir]) - n
	if room > len(data) {
		room = len(data)
	}
	copy(s.FirstBytes[dir][n:], data[:room])
	s.FirstBytesLen[dir] = uint8(n + room)
}

// FreshForClassification reports whether direction dir is at the exact
// moment classifiers must run: nothing has ever been handed to the
// parser list yet (§4.2, §4.4.5 "total_delivered == consumed_by_parsers
// at this moment").
func (s *State) FreshForClassification(dir packet.Direction) bool {
	return s.TotalDelivered[dir] == s.ConsumedByParsers[dir]
}

func safeParse(fn ParserFunc, s *State, userState any, data []byte, dir packet.Direction) (v Verdict) {
	defer func() {
		if recover() != nil {
			v = Unregister
		}
	}()
	return fn(s, userState, data, dir)
}

func safeFree(fn FreeFunc, userState any) {
	defer func() { recover() }()
	if fn != nil {
		fn(userState)
	}
}

// Host is the set of callbacks the core invokes on the host application
// (§6.1). None of these return an error: failures here are the host's
// problem to surface through its own means, never the core's.
type Host interface {
	EmitProtocol(s *State, name string)
	EmitFieldLowercase(s *State, id fields.ID, data []byte)
	EmitField(s *State, id fields.ID, data []byte, copy bool)
	MarkForClose(s *State)
	AddTag(s *State, tag string)
}

// NamedFunc is an externally registered callback the core can invoke by
// name — e.g. a TLS ClientHello parser supplied by the host so the QUIC
// Initial decryptor does not need its own TLS stack.
type NamedFunc func(s *State, data []byte, userdata any)

// NamedFuncs resolves a NamedFunc by name at startup.
type NamedFuncs interface {
	Lookup(name string) (NamedFunc, bool)
}

// Diagnostics exposes the session_pretty_string helper (§6.1) used only
// for log lines, never for control flow.
type Diagnostics interface {
	Pretty(s *State) string
}
