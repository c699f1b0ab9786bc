/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package classify implements the process-wide classifier registry
// (§3.5, §4.2): a table mapping (transport, byte-pattern-at-offset) and
// (transport, port) triggers to callbacks. The registry is built once
// at startup and is read-only for the remainder of the process's life
// — §5 relies on that to let every worker goroutine read it lock-free.
package classify

import (
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

// Transport identifies which trigger kind a registration matches on.
type Transport uint8

const (
	TCP Transport = iota
	UDP
	TCPSrcPort
	TCPDstPort
	TCPEitherPort
	UDPPort
)

// Fn is a classifier callback. It receives the session, the host
// callback set (for EmitProtocol/EmitField/AddTag/MarkForClose), the
// first bytes seen in this direction (or this datagram, for UDP), the
// direction the bytes arrived on, and the registration's own userdata.
// It may call s.RegisterParser to attach a stateful parser.
type Fn func(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, userdata any)

type patternReg struct {
	name       string
	userdata   any
	transport  Transport
	offset     int
	pattern    []byte
	classify   Fn
}

type portReg struct {
	name      string
	userdata  any
	transport Transport
	port      uint16
	classify  Fn
}

// Registry holds every classifier registration. The zero value is
// ready to use. Registration order is preserved and is the dispatch
// order (§4.2 "Ordering of match execution... registration order").
type Registry struct {
	patterns []patternReg
	ports    []portReg
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// RegisterPattern adds a byte-pattern trigger. pattern must be 1-16
// bytes; offset is the byte position within the first-seen data where
// pattern must match for classify to fire (§3.5).
func (r *Registry) RegisterPattern(name string, userdata any, transport Transport, offset int, pattern []byte, classify Fn) {
	p := make([]byte, len(pattern))
	copy(p, pattern)
	r.patterns = append(r.patterns, patternReg{
		name:      name,
		userdata:  userdata,
		transport: transport,
		offset:    offset,
		pattern:   p,
		classify:  classify,
	})
}

// RegisterPort adds a port trigger (§3.5).
func (r *Registry) RegisterPort(name string, userdata any, transport Transport, port uint16, classify Fn) {
	r.ports = append(r.ports, portReg{
		name:      name,
		userdata:  userdata,
		transport: transport,
		port:      port,
		classify:  classify,
	})
}

// portMatches reports whether reg fires for a packet whose source/dest
// ports are srcPort/dstPort.
func portMatches(reg portReg, srcPort, dstPort uint16) bool {
	switch reg.transport {
	case TCPSrcPort:
		return srcPort == reg.port
	case TCPDstPort:
		return dstPort == reg.port
	case TCPEitherPort:
		return srcPort == reg.port || dstPort == reg.port
	case UDPPort:
		return srcPort == reg.port || dstPort == reg.port
	}
	return false
}

// RunTCP fires every matching TCP classifier (pattern and port) against
// the first bytes seen in direction dir. It is called exactly once per
// (session, direction) the moment fresh bytes reach the parser pipeline
// (§4.2). srcPort/dstPort are the ports as seen on the wire for this
// direction's traffic.
func (r *Registry) RunTCP(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, srcPort, dstPort uint16) {
	r.run(s, host, data, dir, TCP, srcPort, dstPort)
}

// RunUDP fires every matching UDP classifier against one datagram's
// payload (§4.5). Unlike TCP, this may run on every datagram until a
// per-session parser has been registered.
func (r *Registry) RunUDP(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, srcPort, dstPort uint16) {
	r.run(s, host, data, dir, UDP, srcPort, dstPort)
}

func (r *Registry) run(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, patternTransport Transport, srcPort, dstPort uint16) {
	for _, p := range r.patterns {
		if p.transport != patternTransport {
			continue
		}
		if p.offset < 0 || len(p.pattern) == 0 {
			continue
		}
		if p.offset+len(p.pattern) > len(data) {
			continue
		}
		if !bytesEqual(data[p.offset:p.offset+len(p.pattern)], p.pattern) {
			continue
		}
		fireClassifier(p.classify, s, host, data, dir, p.userdata)
	}
	for _, p := range r.ports {
		if patternTransport == TCP {
			if p.transport != TCPSrcPort && p.transport != TCPDstPort && p.transport != TCPEitherPort {
				continue
			}
		} else if p.transport != UDPPort {
			continue
		}
		if !portMatches(p, srcPort, dstPort) {
			continue
		}
		fireClassifier(p.classify, s, host, data, dir, p.userdata)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fireClassifier invokes fn, converting any panic into a no-op so a
// single misbehaving classifier cannot take the session down (§4.8).
func fireClassifier(fn Fn, s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, userdata any) {
	if fn == nil {
		return
	}
	defer func() { recover() }()
	fn(s, host, data, dir, userdata)
}
