/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package patterns

import (
	"testing"

	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

type testHost struct {
	protocols []string
}

func (h *testHost) EmitProtocol(_ *flowsession.State, name string)           { h.protocols = append(h.protocols, name) }
func (h *testHost) EmitFieldLowercase(*flowsession.State, fields.ID, []byte) {}
func (h *testHost) EmitField(*flowsession.State, fields.ID, []byte, bool)    {}
func (h *testHost) MarkForClose(*flowsession.State)                         {}
func (h *testHost) AddTag(*flowsession.State, string)                       {}

func runTCP(t *testing.T, reg *classify.Registry, data []byte, srcPort, dstPort uint16) *testHost {
	t.Helper()
	var s flowsession.State
	s.Endpoints[0].Port = srcPort
	s.Endpoints[1].Port = dstPort
	host := &testHost{}
	reg.RunTCP(&s, host, data, packet.DirectionA, srcPort, dstPort)
	return host
}

func runUDP(t *testing.T, reg *classify.Registry, data []byte, srcPort, dstPort uint16) *testHost {
	t.Helper()
	var s flowsession.State
	s.Endpoints[0].Port = srcPort
	s.Endpoints[1].Port = dstPort
	host := &testHost{}
	reg.RunUDP(&s, host, data, packet.DirectionA, srcPort, dstPort)
	return host
}

func expectProtocol(t *testing.T, host *testHost, name string) {
	t.Helper()
	for _, p := range host.protocols {
		if p == name {
			return
		}
	}
	t.Fatalf("expected protocol %q, got %v", name, host.protocols)
}

func expectNone(t *testing.T, host *testHost) {
	t.Helper()
	if len(host.protocols) != 0 {
		t.Fatalf("expected no protocol, got %v", host.protocols)
	}
}

func TestBittorrentSimplePattern(t *testing.T) {
	reg := classify.New()
	Register(reg)
	host := runTCP(t, reg, []byte("\x13BitTorrent protocol rest"), 1, 2)
	expectProtocol(t, host, "bittorrent")
}

func TestNTPStratumCheck(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 48)
	data[0] = 0x13
	data[1] = 1 // stratum
	host := runUDP(t, reg, data, 123, 54321)
	expectProtocol(t, host, "ntp")
}

func TestNTPRejectsWrongPort(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 48)
	data[0] = 0x13
	data[1] = 1
	host := runUDP(t, reg, data, 9999, 54321)
	expectNone(t, host)
}

func TestNTPRejectsHighStratum(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 48)
	data[0] = 0x13
	data[1] = 17
	host := runUDP(t, reg, data, 123, 1)
	expectNone(t, host)
}

func TestSyslogDigitScan(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("<34>Jul 31 hostname: message"), 1, 2)
	expectProtocol(t, host, "syslog")
}

func TestSyslogRejectsNonDigitAfterPrefix(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("<3xJul 31 hostname: message"), 1, 2)
	expectNone(t, host)
}

func TestKafkaHeaderLengthMatch(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 10)
	data[2], data[3] = 0x00, 0x06 // flen = 4 + 6 = 10
	data[4] = 0
	data[5] = 3
	data[7] = 0
	host := runTCP(t, reg, data, 1, 2)
	expectProtocol(t, host, "kafka")
}

func TestKafkaRejectsBadLength(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 11)
	data[2], data[3] = 0x00, 0x06
	data[4] = 0
	data[5] = 3
	data[7] = 0
	host := runTCP(t, reg, data, 1, 2)
	expectNone(t, host)
}

func TestTacacsPortCheck(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("\xc0\x01\x01rest"), 49, 54321)
	expectProtocol(t, host, "tacacs")
}

func TestTacacsRejectsWrongPort(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("\xc0\x01\x01rest"), 9999, 54321)
	expectNone(t, host)
}

func TestHSRPVersion1(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runUDP(t, reg, []byte{0, 3, 0}, 1985, 1985)
	expectProtocol(t, host, "hsrp")
}

func TestHSRPVersion2(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runUDP(t, reg, []byte{1, 40, 2}, 2029, 2029)
	expectProtocol(t, host, "hsrpv2")
}

func TestHSRPRequiresMatchingPorts(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runUDP(t, reg, []byte{0, 3, 0}, 1985, 9999)
	expectNone(t, host)
}

func TestSCCPDstPort(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 21)
	data[0] = 13
	host := runTCP(t, reg, data, 54321, 2000)
	expectProtocol(t, host, "sccp")
}

func TestWudoDstPort(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := []byte("\x0eSwarm protocol")
	host := runTCP(t, reg, data, 54321, 7680)
	expectProtocol(t, host, "wudo")
}

func TestSafetLengthField(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 24)
	data[2] = 24
	host := runUDP(t, reg, data, 54321, 23294)
	expectProtocol(t, host, "safet")
}

func TestTelnetDstPort(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte{0xff, 0xfb, 0x01}, 54321, 23)
	expectProtocol(t, host, "telnet")
}

func TestTelnetRejectsWrongOptionByte(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte{0xff, 0xf9, 0x01}, 54321, 23)
	expectNone(t, host)
}

func TestOther220LMTP(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("220 mail.example.com LMTP ready"), 1, 2)
	expectProtocol(t, host, "lmtp")
}

func TestOther220FTP(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("220 ftp.example.com ready"), 1, 2)
	expectProtocol(t, host, "ftp")
}

func TestOther220PlainSMTPEmitsNothing(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("220 mail.example.com ESMTP Postfix"), 1, 2)
	expectNone(t, host)
}

func TestVNCBanner(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("RFB 003.008\n"), 1, 2)
	expectProtocol(t, host, "vnc")
}

func TestJabberStream(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("<?xml version='1.0'?><stream:stream xmlns='jabber:client'>"), 1, 2)
	expectProtocol(t, host, "jabber")
}

func TestUserCommand(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("USER anonymous\r\n"), 1, 2)
	expectProtocol(t, host, "user")
}

func TestUserRejectsIRCNick(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("USER foo 0 0 :real\nNICK somebody\r\n"), 1, 2)
	expectNone(t, host)
}

func TestThriftHeaderPostcheck(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 21)
	data[4], data[5], data[6] = 0x80, 0x01, 0x00
	host := runTCP(t, reg, data, 1, 2)
	expectProtocol(t, host, "thrift")
}

func TestFlapLengthField(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := []byte{0x2a, 0x01, 0x00, 0x00, 0x00, 0x02, 0xaa, 0xbb}
	host := runTCP(t, reg, data, 1, 2)
	expectProtocol(t, host, "flap")
}

func TestDropboxLanSyncPort(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runUDP(t, reg, []byte("xhost_int something"), 54321, 17500)
	expectProtocol(t, host, "dropbox-lan-sync")
}

func TestHDFSVariant(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := []byte{0x00, 0x1c, 0x50, 0, 0, 0x0a, 0, 0, 0, 0}
	host := runTCP(t, reg, data, 1, 2)
	expectProtocol(t, host, "hdfs")
}

func TestArubaPAPIPort(t *testing.T) {
	reg := classify.New()
	Register(reg)

	data := make([]byte, 20)
	data[0], data[1] = 0x49, 0x72
	host := runUDP(t, reg, data, 54321, 8211)
	expectProtocol(t, host, "aruba-papi")
}

func TestRIPPort(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runUDP(t, reg, []byte{0x01, 0x01, 0x00, 0x00}, 520, 520)
	expectProtocol(t, host, "rip")
}

func TestWhoisFingerPlainPortTag(t *testing.T) {
	reg := classify.New()
	Register(reg)

	host := runTCP(t, reg, []byte("anything"), 54321, 43)
	expectProtocol(t, host, "whois")

	host = runTCP(t, reg, []byte("anything"), 54321, 79)
	expectProtocol(t, host, "finger")
}
