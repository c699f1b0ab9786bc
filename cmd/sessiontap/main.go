/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// sessiontap is a demonstration capture command: it decodes a pcap file
// or a live interface with gopacket, feeds every TCP/UDP packet through
// this module's reassembly, dispatch, and classification core, and
// prints every protocol tag and extracted field it sees. It is the
// thinnest possible host application, not a production ingester.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/uuid"

	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/config"
	"github.com/gravwell/flowcore/corelog"
	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
	"github.com/gravwell/flowcore/protocols"
	"github.com/gravwell/flowcore/protocols/quicinitial"
	"github.com/gravwell/flowcore/tcpreasm"
	"github.com/gravwell/flowcore/tlshello"
	"github.com/gravwell/flowcore/udpdispatch"
	"github.com/gravwell/flowcore/workerpool"
)

var (
	pcapFile  = flag.String("pcap-file", "", "path to a pcap file to read")
	iface     = flag.String("iface", "", "network interface to capture live from (mutually exclusive with -pcap-file)")
	bpfFilter = flag.String("bpf-filter", "", "BPF filter applied to the capture")
	cfgPath   = flag.String("config", "", "path to an INI config file (optional)")
	logLevel  = flag.String("log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR, OFF")
)

func main() {
	flag.Parse()

	cfg := config.Config{}
	workers := runtime.NumCPU()
	lvlName := *logLevel
	if *cfgPath != "" {
		c, w, lvl, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
			os.Exit(1)
		}
		cfg = c
		if w > 0 {
			workers = w
		}
		if lvl != "" {
			lvlName = lvl
		}
	}
	cfg.Clamp()

	logger := corelog.New(os.Stderr, parseLevel(lvlName))
	runID := uuid.New().String()
	logger.Info("starting", corelog.KV("run_id", runID), corelog.KV("workers", workers))

	hnd, err := openCapture()
	if err != nil {
		logger.Error("opening capture", corelog.KVErr(err))
		os.Exit(1)
	}
	defer hnd.Close()

	if *bpfFilter != "" {
		if err := hnd.SetBPFFilter(*bpfFilter); err != nil {
			logger.Error("setting bpf filter", corelog.KVErr(err))
			os.Exit(1)
		}
	}

	fieldReg := newFieldRegistry()
	host := &tapHost{log: logger, out: os.Stdout, names: map[fields.ID]string{}}
	nf := namedFuncs{m: map[string]flowsession.NamedFunc{}}
	nf.m[quicinitial.TLSClientHelloFuncName] = func(s *flowsession.State, data []byte, userdata any) {
		fieldIDs, ok := userdata.(quicinitial.ClientHelloFields)
		if !ok {
			return
		}
		sni, ok := tlshello.ExtractSNI(data)
		if !ok || fieldIDs.HostField == fields.Invalid {
			return
		}
		host.EmitField(s, fieldIDs.HostField, []byte(sni), true)
	}

	for _, name := range []string{fields.NameUser, fields.NameQUICHost, fields.NameQUICUserAgent, fields.NameQUICVersion} {
		id := fieldReg.FieldDefine("core", "string", true, name, name)
		host.names[id] = name
	}

	reg := classify.New()
	protocols.RegisterAll(reg, fieldReg, nf)

	tp := &tap{
		engine:      tcpreasm.NewEngine(reg, cfg.MaxTCPOutOfOrderPackets),
		dispatcher:  udpdispatch.NewDispatcher(reg),
		host:        host,
		log:         logger,
		tcpSessions: make(map[string]*session),
		udpSessions: make(map[string]*session),
	}

	pool := workerpool.New(workers, 256)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		hnd.Close()
	}()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var pktCount uint64
	for {
		data, ci, err := hnd.ReadPacketData()
		if err != nil {
			if err == io.EOF || err == pcap.NextErrorNoMorePackets {
				break
			}
			logger.Warn("reading packet", corelog.KVErr(err))
			continue
		}
		tp.handle(pool, data, ci)
		pktCount++
	}

	if err := pool.Stop(); err != nil {
		logger.Error("worker pool shutdown", corelog.KVErr(err))
	}
	tp.closeAll()
	logger.Info("finished", corelog.KV("run_id", runID), corelog.KV("packets", pktCount))
}

func openCapture() (*pcap.Handle, error) {
	switch {
	case *pcapFile != "":
		return pcap.OpenOffline(*pcapFile)
	case *iface != "":
		return pcap.OpenLive(*iface, 65536, true, pcap.BlockForever)
	default:
		return nil, fmt.Errorf("one of -pcap-file or -iface is required")
	}
}

func parseLevel(name string) corelog.Level {
	switch name {
	case "DEBUG":
		return corelog.DEBUG
	case "WARN":
		return corelog.WARN
	case "ERROR":
		return corelog.ERROR
	case "OFF":
		return corelog.OFF
	default:
		return corelog.INFO
	}
}

// session is this command's per-flow record: just the fixed State slot
// set the core needs. A production host would embed flowsession.State
// inside a much richer record of its own (connection metadata, byte
// counters headed for storage, session expiry bookkeeping).
type session struct {
	state flowsession.State
}

// tap owns the two session tables and drives every decoded packet
// through the matching engine. mu guards both maps: the capture loop
// inserts under it, and a worker goroutine may delete under it when a
// TCP session closes, since delete on a Go map is not safe to run
// concurrently with another goroutine's insert/lookup.
type tap struct {
	engine     *tcpreasm.Engine
	dispatcher *udpdispatch.Dispatcher
	host       *tapHost
	log        *corelog.Logger

	mu          sync.Mutex
	tcpSessions map[string]*session
	udpSessions map[string]*session
}

// handle decodes one captured frame and, if it carries a TCP or UDP
// segment, routes it to the owning session's worker.
func (t *tap) handle(pool *workerpool.Pool, raw []byte, ci gopacket.CaptureInfo) {
	buf := append([]byte(nil), raw...)
	decoded := gopacket.NewPacket(buf, layers.LayerTypeEthernet, gopacket.NoCopy)

	var srcIP, dstIP net.IP
	var vlan uint32
	var isIPv6 bool
	var tcpLayer *layers.TCP
	var udpLayer *layers.UDP
	offset, ipOffset := 0, 0

	for _, l := range decoded.Layers() {
		switch lt := l.(type) {
		case *layers.Dot1Q:
			vlan = uint32(lt.VLANIdentifier)
		case *layers.IPv4:
			srcIP, dstIP = lt.SrcIP, lt.DstIP
			ipOffset = offset
		case *layers.IPv6:
			srcIP, dstIP = lt.SrcIP, lt.DstIP
			isIPv6 = true
			ipOffset = offset
		case *layers.TCP:
			tcpLayer = lt
		case *layers.UDP:
			udpLayer = lt
		}
		if tcpLayer != nil || udpLayer != nil {
			break
		}
		offset += len(l.LayerContents())
	}
	if srcIP == nil || (tcpLayer == nil && udpLayer == nil) {
		return
	}

	var srcPort, dstPort uint16
	var payloadLen int
	isTCP := tcpLayer != nil
	var synAck bool
	if isTCP {
		srcPort, dstPort = uint16(tcpLayer.SrcPort), uint16(tcpLayer.DstPort)
		payloadLen = len(tcpLayer.LayerContents()) + len(tcpLayer.LayerPayload())
		synAck = tcpLayer.SYN && tcpLayer.ACK
	} else {
		srcPort, dstPort = uint16(udpLayer.SrcPort), uint16(udpLayer.DstPort)
		payloadLen = len(udpLayer.LayerContents()) + len(udpLayer.LayerPayload())
	}

	keyBuf := make([]byte, tcpreasm.IDLen)
	tcpreasm.SessionID(keyBuf, srcIP, dstIP, srcPort, dstPort, vlan, 0)
	key := string(keyBuf)

	pkt := packet.Packet{
		Buf:           buf,
		IPOffset:      ipOffset,
		PayloadOffset: offset,
		PayloadLen:    payloadLen,
		TimestampUS:   ci.Timestamp.UnixNano() / 1000,
		VLAN:          vlan,
		IsIPv6:        isIPv6,
	}

	sess, dir, tableRef := t.sessionFor(key, isTCP, srcIP, dstIP, srcPort, dstPort, synAck)
	pkt.Direction = dir

	pool.Submit(keyBuf, func() {
		if isTCP {
			t.engine.Process(&sess.state, t.host, &pkt)
			if sess.state.ClosePending {
				t.engine.Close(&sess.state, t.host)
				t.mu.Lock()
				delete(tableRef, key)
				t.mu.Unlock()
			}
		} else {
			t.dispatcher.Dispatch(&sess.state, t.host, &pkt)
		}
	})
}

// sessionFor looks up or creates the session for key, bootstrapping it
// on first sight, and returns the direction this packet belongs to
// along with the table it lives in (so handle's worker closure can
// delete from the right one on teardown).
func (t *tap) sessionFor(key string, isTCP bool, srcIP, dstIP net.IP, srcPort, dstPort uint16, synAck bool) (*session, packet.Direction, map[string]*session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	table := t.udpSessions
	if isTCP {
		table = t.tcpSessions
	}
	sess, ok := table[key]
	if !ok {
		sess = &session{}
		if isTCP {
			t.engine.Bootstrap(&sess.state, t.host, srcIP, dstIP, srcPort, dstPort, synAck, true)
		} else {
			sess.state.Endpoints[0] = flowsession.Endpoint{Addr: srcIP, Port: srcPort}
			sess.state.Endpoints[1] = flowsession.Endpoint{Addr: dstIP, Port: dstPort}
			t.host.EmitProtocol(&sess.state, "udp")
		}
		table[key] = sess
	}
	dir := tcpreasm.DirectionOf(&sess.state, srcIP, dstIP, srcPort, dstPort)
	return sess, dir, table
}

// closeAll tears down every still-open session once the capture loop
// exits, releasing any registered parsers.
func (t *tap) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, sess := range t.tcpSessions {
		t.engine.Close(&sess.state, t.host)
		delete(t.tcpSessions, key)
	}
	for key, sess := range t.udpSessions {
		sess.state.FreeAllParsers()
		delete(t.udpSessions, key)
	}
}

// tapHost is the flowsession.Host implementation for this demo: it
// prints every emitted protocol tag, field, and session tag to out
// rather than writing to any real storage backend.
type tapHost struct {
	log   *corelog.Logger
	out   io.Writer
	names map[fields.ID]string
}

func (h *tapHost) EmitProtocol(s *flowsession.State, name string) {
	fmt.Fprintf(h.out, "protocol=%s src=%s:%d dst=%s:%d\n", name,
		s.Endpoints[0].Addr, s.Endpoints[0].Port, s.Endpoints[1].Addr, s.Endpoints[1].Port)
}

func (h *tapHost) EmitFieldLowercase(s *flowsession.State, id fields.ID, data []byte) {
	h.EmitField(s, id, bytes.ToLower(data), true)
}

func (h *tapHost) EmitField(s *flowsession.State, id fields.ID, data []byte, cp bool) {
	if cp {
		data = append([]byte(nil), data...)
	}
	fmt.Fprintf(h.out, "field=%s value=%q src=%s:%d dst=%s:%d\n", h.names[id], data,
		s.Endpoints[0].Addr, s.Endpoints[0].Port, s.Endpoints[1].Addr, s.Endpoints[1].Port)
}

func (h *tapHost) MarkForClose(s *flowsession.State) {
	s.ClosePending = true
}

func (h *tapHost) AddTag(s *flowsession.State, tag string) {
	h.log.Debug("session tag", corelog.KV("tag", tag))
}

// fieldRegistry is the fields.Registry implementation for this demo: an
// in-memory name-to-id table built once at startup, before any packet
// is processed.
type fieldRegistry struct {
	mu   sync.Mutex
	byID map[string]fields.ID
	next fields.ID
}

func newFieldRegistry() *fieldRegistry {
	return &fieldRegistry{byID: make(map[string]fields.ID), next: 1}
}

func (f *fieldRegistry) FieldByName(name string) fields.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byID[name]; ok {
		return id
	}
	return fields.Invalid
}

func (f *fieldRegistry) FieldDefine(category fields.Category, kind fields.Kind, exportable bool, desc, dbname string) fields.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byID[dbname]; ok {
		return id
	}
	id := f.next
	f.next++
	f.byID[dbname] = id
	return id
}

// namedFuncs is the flowsession.NamedFuncs implementation for this
// demo: a plain name-to-callback map built once at startup.
type namedFuncs struct {
	m map[string]flowsession.NamedFunc
}

func (n namedFuncs) Lookup(name string) (flowsession.NamedFunc, bool) {
	fn, ok := n.m[name]
	return fn, ok
}
