/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package tcpreasm is the TCP reassembly engine: sequence-number
// bootstrap, per-packet state tracking, an ordered out-of-order queue,
// and in-order delivery to the classifier registry and per-session
// parser list. It is the largest single component of this module and
// the one every protocol parser ultimately sits downstream of.
package tcpreasm

import (
	"net"

	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

// SequenceDiff returns the signed distance b-a over the 32-bit TCP
// sequence space, accounting for wraparound. A positive result means b
// is ahead of (later than) a; zero means equal; negative means b is
// behind a. Every "is seq X before seq Y" decision in this package goes
// through this function rather than raw subtraction, since raw
// uint32 subtraction breaks the moment a connection's sequence numbers
// wrap past 2^32.
func SequenceDiff(a, b uint32) int64 {
	const wrap = int64(1) << 32
	switch {
	case a > 0xC0000000 && b < 0x40000000:
		return (wrap - int64(a)) + int64(b)
	case b > 0xC0000000 && a < 0x40000000:
		return -((wrap - int64(b)) + int64(a))
	default:
		return int64(b) - int64(a)
	}
}

// Engine owns the classifier registry and queue-bound policy shared by
// every session it processes. A single Engine is safe for concurrent
// use across sessions as long as each individual session's packets are
// only ever handed to one goroutine at a time (§5's per-session
// single-threaded mutation model; this package enforces none of that
// itself, it only requires it).
type Engine struct {
	Registry  *classify.Registry
	MaxQueued int
}

// NewEngine builds an Engine. maxQueued should come from a clamped
// config.Config.MaxTCPOutOfOrderPackets.
func NewEngine(reg *classify.Registry, maxQueued int) *Engine {
	if maxQueued <= 0 {
		maxQueued = 256
	}
	return &Engine{Registry: reg, MaxQueued: maxQueued}
}

// Bootstrap runs the session-creation-time bookkeeping (§4.4.2, steps
// 1 and 3). It must be called exactly once, on the packet that causes
// the session to be created. synAck reports whether that first packet
// is itself a SYN+ACK; isNewSession distinguishes a freshly allocated
// session from one the host is re-keying a stray SYN+ACK into.
func (e *Engine) Bootstrap(s *flowsession.State, host flowsession.Host, srcIP, dstIP net.IP, srcPort, dstPort uint16, synAck, isNewSession bool) {
	if synAck && !isNewSession {
		s.Endpoints[0] = flowsession.Endpoint{Addr: dstIP, Port: dstPort}
		s.Endpoints[1] = flowsession.Endpoint{Addr: srcIP, Port: srcPort}
	} else {
		s.Endpoints[0] = flowsession.Endpoint{Addr: srcIP, Port: srcPort}
		s.Endpoints[1] = flowsession.Endpoint{Addr: dstIP, Port: dstPort}
	}
	host.EmitProtocol(s, "tcp")
}

// DirectionOf computes which of a session's two directions a packet
// belongs to (§4.4.2 step 2). Called on every packet, not just the
// bootstrap one.
func DirectionOf(s *flowsession.State, srcIP, dstIP net.IP, srcPort, dstPort uint16) packet.Direction {
	if srcPort == s.Endpoints[0].Port && dstPort == s.Endpoints[1].Port &&
		srcIP.Equal(s.Endpoints[0].Addr) && dstIP.Equal(s.Endpoints[1].Addr) {
		return packet.DirectionA
	}
	return packet.DirectionB
}

// Process runs the full per-packet contract of §4.4.3 through §4.4.5:
// header validation and counters, handshake and close-state tracking,
// out-of-order queue insertion, and in-order drain to classifiers and
// parsers. It returns freeMe true when the caller must free pkt
// immediately (dropped, malformed, or fully consumed with no data);
// false means the engine retained pkt on the session's queue and will
// release it later as part of a drain.
func (e *Engine) Process(s *flowsession.State, host flowsession.Host, pkt *packet.Packet) (freeMe bool) {
	dir := pkt.Direction
	payload := pkt.Payload()
	hdr, ok := ParseTCPHeader(payload)
	if !ok {
		return true
	}
	dataLen := hdr.DataLen(len(payload))
	seq := hdr.Seq

	if hdr.Window == 0 && !hdr.HasFlag(FlagRST) {
		if dir == packet.DirectionA {
			s.Counters.SrcZeroWin++
		} else {
			s.Counters.DstZeroWin++
		}
	}

	if dataLen < 0 {
		return true
	}

	if hdr.HasFlag(FlagURG) {
		s.Counters.URG++
	}

	if hdr.HasFlag(FlagSYN) {
		if hdr.HasFlag(FlagACK) {
			s.Counters.SYNACK++
			if !s.HasTCPHandshakeSeen {
				s.ExpectedSeq[dir.Other()] = hdr.Ack
			}
		} else {
			s.Counters.SYN++
			if s.SynTimeUS == 0 {
				s.SynTimeUS = pkt.TimestampUS
			}
			s.AckTimeUS = 0
		}
		s.HasTCPHandshakeSeen = true
		bit := uint8(1) << uint(dir)
		if s.SynSet&bit == 0 {
			s.ExpectedSeq[dir] = seq + 1
			s.SynSet |= bit
		}
		return true
	}

	if hdr.HasFlag(FlagRST) {
		s.Counters.RST++
		d := SequenceDiff(seq, s.ExpectedSeq[dir])
		if d == 0 && !s.ClosePending {
			s.ClosePending = true
			return true
		}
		if d >= 0 {
			// d > 0, or d == 0 arriving after the session is already
			// marked for close: either way the RST is at or behind
			// expected_seq and short-circuits this direction closed.
			// An RST ahead of expected_seq (d < 0) leaves the state as is.
			s.TCPState[dir] = flowsession.TCPFinAcked
		}
	}

	if hdr.HasFlag(FlagFIN) {
		s.Counters.FIN++
		s.TCPState[dir] = flowsession.TCPFinSeen
	}

	if hdr.Flags&(FlagFIN|FlagSYN|FlagRST|FlagPSH|FlagACK) == FlagACK {
		s.Counters.ACK++
		if s.Counters.PerDirAck[dir] < 255 {
			s.Counters.PerDirAck[dir]++
		}
		if s.AckTimeUS == 0 {
			s.AckTimeUS = pkt.TimestampUS
		}
	}

	if hdr.HasFlag(FlagPSH) {
		s.Counters.PSH++
	}

	if s.StopTCP {
		return true
	}

	if s.HasTCPHandshakeSeen && s.Counters.SYNACK == 0 && s.ExpectedSeq[dir] == 0 {
		host.AddTag(s, "no-syn-ack")
		s.ExpectedSeq[dir] = seq
	}

	if s.QueueLen > e.MaxQueued {
		e.flushQueue(s)
		host.AddTag(s, "incomplete-tcp")
		s.StopTCP = true
		return true
	}

	if hdr.HasFlag(FlagACK) || hdr.HasFlag(FlagRST) {
		other := dir.Other()
		if s.TCPState[other] == flowsession.TCPFinSeen {
			s.TCPState[other] = flowsession.TCPFinAcked
		}
		if s.TCPState[0] == flowsession.TCPFinAcked && s.TCPState[1] == flowsession.TCPFinAcked {
			s.ClosePending = true
		}
	}

	if hdr.HasFlag(FlagACK) && s.HasTCPHandshakeSeen {
		bit := uint8(1) << uint(dir)
		if s.AckedUnseenTagged&bit == 0 {
			other := dir.Other()
			if s.ExpectedSeq[other] != 0 && SequenceDiff(s.ExpectedSeq[other], hdr.Ack) > 1 {
				tag := "acked-unseen-segment-dst"
				if dir == packet.DirectionA {
					tag = "acked-unseen-segment-src"
				}
				host.AddTag(s, tag)
				s.AckedUnseenTagged |= bit
			}
		}
	}

	if dataLen == 0 || hdr.HasFlag(FlagRST) {
		return true
	}

	if s.HasTCPHandshakeSeen && SequenceDiff(s.ExpectedSeq[dir], seq+uint32(dataLen)) <= 0 {
		return true
	}

	seg := &flowsession.PendingSegment{
		Pkt:        pkt,
		Direction:  dir,
		Seq:        seq,
		Ack:        hdr.Ack,
		Len:        dataLen,
		DataOffset: pkt.PayloadOffset + hdr.HeaderLen(),
	}
	e.insert(s, host, seg)
	e.drain(s, host)
	return false
}

// insert places seg into the session's ordered out-of-order queue
// (§4.4.4).
func (e *Engine) insert(s *flowsession.State, host flowsession.Host, seg *flowsession.PendingSegment) {
	outOfOrder := false
	cur := s.QueueTail
	for cur != nil {
		var existingKey, newKey uint32
		sameDir := cur.Direction == seg.Direction
		if sameDir {
			existingKey, newKey = cur.Seq, seg.Seq
		} else {
			existingKey, newKey = cur.Ack, seg.Seq
		}
		d := SequenceDiff(existingKey, newKey)
		switch {
		case d == 0 && sameDir:
			if seg.Len > cur.Len {
				e.replace(s, cur, seg)
			}
			e.tagOutOfOrder(s, host, seg, outOfOrder)
			return
		case d == 0:
			if SequenceDiff(seg.Ack, cur.Seq) < 0 {
				e.insertAfter(s, cur, seg)
				e.tagOutOfOrder(s, host, seg, outOfOrder)
				return
			}
			outOfOrder = true
			cur = cur.Prev
		case d > 0:
			e.insertAfter(s, cur, seg)
			e.tagOutOfOrder(s, host, seg, outOfOrder)
			return
		default:
			outOfOrder = true
			cur = cur.Prev
		}
	}
	e.insertHead(s, seg)
	e.tagOutOfOrder(s, host, seg, outOfOrder)
}

func (e *Engine) tagOutOfOrder(s *flowsession.State, host flowsession.Host, seg *flowsession.PendingSegment, outOfOrder bool) {
	if !outOfOrder || !s.HasTCPHandshakeSeen {
		return
	}
	bit := uint8(1) << uint(seg.Direction)
	if s.OutOfOrderTagged&bit != 0 {
		return
	}
	s.OutOfOrderTagged |= bit
	tag := "out-of-order-dst"
	if seg.Direction == packet.DirectionA {
		tag = "out-of-order-src"
	}
	host.AddTag(s, tag)
}

func (e *Engine) insertAfter(s *flowsession.State, at, seg *flowsession.PendingSegment) {
	seg.Prev = at
	seg.Next = at.Next
	if at.Next != nil {
		at.Next.Prev = seg
	} else {
		s.QueueTail = seg
	}
	at.Next = seg
	s.QueueLen++
}

func (e *Engine) insertHead(s *flowsession.State, seg *flowsession.PendingSegment) {
	seg.Prev = nil
	seg.Next = s.QueueHead
	if s.QueueHead != nil {
		s.QueueHead.Prev = seg
	} else {
		s.QueueTail = seg
	}
	s.QueueHead = seg
	s.QueueLen++
}

func (e *Engine) replace(s *flowsession.State, old, seg *flowsession.PendingSegment) {
	seg.Prev = old.Prev
	seg.Next = old.Next
	if old.Prev != nil {
		old.Prev.Next = seg
	} else {
		s.QueueHead = seg
	}
	if old.Next != nil {
		old.Next.Prev = seg
	} else {
		s.QueueTail = seg
	}
}

func (e *Engine) popHead(s *flowsession.State) {
	head := s.QueueHead
	if head == nil {
		return
	}
	s.QueueHead = head.Next
	if s.QueueHead != nil {
		s.QueueHead.Prev = nil
	} else {
		s.QueueTail = nil
	}
	s.QueueLen--
}

// flushQueue discards every queued segment without delivering it
// (§4.4.3 queue-bound case, §4.8).
func (e *Engine) flushQueue(s *flowsession.State) {
	s.QueueHead = nil
	s.QueueTail = nil
	s.QueueLen = 0
}

// drain walks the queue from head in order, delivering every
// contiguous run that has become available (§4.4.5).
func (e *Engine) drain(s *flowsession.State, host flowsession.Host) {
	for s.QueueHead != nil {
		entry := s.QueueHead
		// d > 0 means entry.Seq sits strictly ahead of the next byte we
		// expect: a gap remains, so this and every later (sorted) entry
		// are unreachable for now.
		d := SequenceDiff(s.ExpectedSeq[entry.Direction], entry.Seq)
		if d > 0 {
			return
		}
		// Every comparison here must go through SequenceDiff rather than
		// raw uint32 arithmetic: a segment can legitimately end just
		// after a sequence-number wraparound, where entry.Seq+entry.Len
		// is numerically smaller than ExpectedSeq despite being later in
		// the stream.
		if SequenceDiff(s.ExpectedSeq[entry.Direction], entry.Seq+uint32(entry.Len)) <= 0 {
			e.popHead(s)
			continue
		}
		off := s.ExpectedSeq[entry.Direction] - entry.Seq
		data := entry.Data()
		if int(off) > len(data) {
			e.popHead(s)
			continue
		}
		run := data[off:]
		e.deliver(s, host, entry.Direction, run)
		e.popHead(s)
	}
}

// deliver runs classifiers (on the very first run a direction ever
// sees) and hands run to the session's parser list, advancing every
// byte-accounting slot §3.2 requires.
func (e *Engine) deliver(s *flowsession.State, host flowsession.Host, dir packet.Direction, run []byte) {
	s.AppendFirstBytes(dir, run)
	n := uint64(len(run))
	// FreshForClassification compares TotalDelivered against
	// ConsumedByParsers; this engine never advances ConsumedByParsers
	// itself (only a parser that tracks its own partial consumption
	// would), so once TotalDelivered moves past zero on the first run
	// the two permanently diverge and classifiers never fire again for
	// this direction. Bumping ConsumedByParsers by n here alongside
	// TotalDelivered would keep them in lockstep and re-fire
	// classifiers on every subsequent run.
	if s.FreshForClassification(dir) && e.Registry != nil {
		srcPort, dstPort := s.Endpoints[0].Port, s.Endpoints[1].Port
		if dir == packet.DirectionB {
			srcPort, dstPort = dstPort, srcPort
		}
		e.Registry.RunTCP(s, host, run, dir, srcPort, dstPort)
	}
	s.DeliverRun(dir, run)
	s.TotalDelivered[dir] += n
	s.ExpectedSeq[dir] += uint32(len(run))
}

// Close implements the single-packet short-circuit (§4.4.6): if the
// session is ending with exactly one still-queued segment and exactly
// one PSH ever seen, that segment is worth delivering even though the
// handshake or close sequence never completed cleanly. It then frees
// the queue and every registered parser.
func (e *Engine) Close(s *flowsession.State, host flowsession.Host) {
	if s.QueueLen == 1 && s.Counters.PSH == 1 {
		entry := s.QueueHead
		e.deliver(s, host, entry.Direction, entry.Data())
	}
	e.flushQueue(s)
	s.FreeAllParsers()
}
