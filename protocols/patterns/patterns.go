/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package patterns registers the ~50 protocols (§4.6) whose
// classification is "on byte-prefix or port match, emit the protocol
// tag" with at most a light post-check. NetFlow, STUN, MQTT, RDP,
// gh0st, ISAKMP, and the QUIC family each get their own richer package;
// everything here is mechanical by comparison but still defines the
// registry's public fixture.
package patterns

import (
	"bytes"

	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

// tag returns a classify.Fn that unconditionally emits name, matching
// the source's misc_add_protocol_classify: the pattern or port match
// alone is the whole signal.
func tag(name string) classify.Fn {
	return func(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
		host.EmitProtocol(s, name)
	}
}

// simpleTCP registers a fixed byte-prefix-at-offset-0 TCP classifier
// whose only job is to emit name.
func simpleTCP(reg *classify.Registry, name, pattern string) {
	reg.RegisterPattern(name, nil, classify.TCP, 0, []byte(pattern), tag(name))
}

func simpleUDP(reg *classify.Registry, name, pattern string) {
	reg.RegisterPattern(name, nil, classify.UDP, 0, []byte(pattern), tag(name))
}

func simpleBoth(reg *classify.Registry, name, pattern string) {
	simpleTCP(reg, name, pattern)
	simpleUDP(reg, name, pattern)
}

// Register adds every mechanical pattern/port classifier to reg. It
// takes no field ids: none of these protocols extract application
// fields, only a protocol tag.
func Register(reg *classify.Registry) {
	simpleTCP(reg, "bittorrent", "\x13BitTorrent protocol")
	simpleTCP(reg, "bittorrent", "BSYNC\x00")
	simpleUDP(reg, "bittorrent", "d1:a")
	simpleUDP(reg, "bittorrent", "d1:r")
	simpleUDP(reg, "bittorrent", "d1:q")

	simpleTCP(reg, "bitcoin", "\xf9\xbe\xb4\xd9")
	simpleTCP(reg, "bitcoin", "\xf9\xbe\xb4\xfe")

	reg.RegisterPattern("imap", nil, classify.TCP, 0, []byte("* OK "), classifyIMAP)
	simpleTCP(reg, "pop3", "+OK ")
	reg.RegisterPattern("other220", nil, classify.TCP, 0, []byte("220 "), classifyOther220)
	reg.RegisterPattern("vnc", nil, classify.TCP, 0, []byte("RFB 0"), classifyVNC)

	simpleTCP(reg, "redis", "+PONG")
	simpleTCP(reg, "redis", "\x2a\x31\x0d\x0a\x24")
	simpleTCP(reg, "redis", "\x2a\x32\x0d\x0a\x24")
	simpleTCP(reg, "redis", "\x2a\x33\x0d\x0a\x24")
	simpleTCP(reg, "redis", "\x2a\x34\x0d\x0a\x24")
	simpleTCP(reg, "redis", "\x2a\x35\x0d\x0a\x24")
	simpleTCP(reg, "redis", "-NOAUTH ")

	reg.RegisterPattern("mongo", nil, classify.TCP, 8, []byte("\x00\x00\x00\x00\xd4\x07\x00\x00"), tag("mongo"))
	reg.RegisterPattern("mongo", nil, classify.TCP, 8, []byte("\xff\xff\xff\xff\xd4\x07\x00\x00"), tag("mongo"))

	simpleBoth(reg, "sip", "SIP/2.0")
	simpleBoth(reg, "sip", "REGISTER sip:")
	simpleBoth(reg, "sip", "NOTIFY sip:")

	reg.RegisterPattern("jabber", nil, classify.TCP, 0, []byte("<?xml"), classifyJabber)
	reg.RegisterPattern("user", nil, classify.TCP, 0, []byte("USER "), classifyUser)

	simpleTCP(reg, "thrift", "\x80\x01\x00\x01\x00\x00\x00")
	reg.RegisterPattern("thrift", nil, classify.TCP, 0, []byte{0x00, 0x00}, classifyThrift)

	simpleTCP(reg, "aerospike", "\x02\x01\x00\x00\x00\x00\x00\x4e\x6e\x6f\x64\x65")
	simpleTCP(reg, "aerospike", "\x02\x01\x00\x00\x00\x00\x00\x23\x6e\x6f\x64\x65")

	simpleTCP(reg, "cassandra", "\x00\x00\x00\x25\x80\x01\x00\x01\x00\x00\x00\x0c\x73\x65\x74\x5f")
	simpleTCP(reg, "cassandra", "\x00\x00\x00\x1d\x80\x01\x00\x01\x00\x00\x00\x10\x64\x65\x73\x63")

	for _, b := range []byte{0x13, 0x19, 0x1a, 0x1b, 0x1c, 0x21, 0x23, 0x24, 0xd9, 0xdb, 0xe3} {
		reg.RegisterPattern("ntp", nil, classify.UDP, 0, []byte{b}, classifyNTP)
	}

	simpleUDP(reg, "bjnp", "BJNP")

	for _, b := range []byte{'1', '2', '3', '4', '5', '6', '7', '8', '9'} {
		reg.RegisterPattern("syslog", nil, classify.TCP, 0, []byte{'<', b}, classifySyslog)
		reg.RegisterPattern("syslog", nil, classify.UDP, 0, []byte{'<', b}, classifySyslog)
	}

	reg.RegisterPattern("flap", nil, classify.TCP, 0, []byte{0x2a, 0x01}, classifyFlap)

	simpleTCP(reg, "nsclient", "NSClient")
	simpleTCP(reg, "nsclient", "None&")

	simpleUDP(reg, "ssdp", "M-SEARCH ")
	simpleUDP(reg, "ssdp", "NOTIFY * ")

	simpleTCP(reg, "zabbix", "ZBXD\x01")

	simpleTCP(reg, "rmi", "\x4a\x52\x4d\x49\x00\x02\x4b")
	simpleTCP(reg, "rmi", "JRMI\x00")

	for _, p := range []string{"\xc0\x01\x01", "\xc0\x01\x02", "\xc0\x02\x01", "\xc0\x03\x01", "\xc0\x03\x02", "\xc1\x01\x01", "\xc1\x01\x02"} {
		reg.RegisterPattern("tacacs", nil, classify.TCP, 0, []byte(p), classifyTacacs)
		reg.RegisterPattern("tacacs", nil, classify.UDP, 0, []byte(p), classifyTacacs)
	}

	simpleTCP(reg, "flash-policy", "<policy-file-request/>")

	reg.RegisterPort("dropbox-lan-sync", nil, classify.UDPPort, 17500, classifyDropboxLanSync)

	reg.RegisterPattern("kafka", nil, classify.TCP, 0, []byte{0x00, 0x00}, classifyKafka)

	simpleUDP(reg, "steam-friends", "VS01")
	simpleUDP(reg, "valve-a2s", "\xff\xff\xff\xff\x54\x53\x6f\x75")
	simpleTCP(reg, "stream-ihscp", "\xa4\x00\x00\x00\x56\x54\x30\x31")

	simpleTCP(reg, "honeywell-tcc", "\x43\x42\x4b\x50\x50\x52\x05\x50")

	simpleTCP(reg, "pjl", "\x1b\x25\x2d\x31\x32\x33\x34\x35")
	simpleTCP(reg, "pjl", "\x40\x50\x4a\x4c\x20")

	simpleTCP(reg, "dcerpc", "\x05\x00\x0b")

	for _, p := range [][]byte{{0x01, 0x01, 0x00, 0x00}, {0x01, 0x02, 0x00, 0x00}, {0x02, 0x01, 0x00, 0x00}, {0x02, 0x02, 0x00, 0x00}} {
		reg.RegisterPattern("rip", nil, classify.UDP, 0, p, classifyRIP)
	}

	simpleTCP(reg, "nzsql", "\x00\x00\x00\x08\x00\x01\x00\x03")

	simpleTCP(reg, "splunk", "--splunk-cooked-mode")
	reg.RegisterPattern("splunk-replication", nil, classify.TCP, 6, []byte("\x00\x06\x00\x00\x00\x05_raw"), tag("splunk-replication"))

	reg.RegisterPort("aruba-papi", nil, classify.UDPPort, 8211, classifyArubaPAPI)

	simpleTCP(reg, "x11", "\x6c\x00\x0b\x00")

	simpleTCP(reg, "memcached", "flush_all")
	simpleTCP(reg, "memcached", "STORED\r\n")
	simpleTCP(reg, "memcached", "END\r\n")
	simpleTCP(reg, "memcached", "VALUE ")
	reg.RegisterPattern("memcached", nil, classify.UDP, 6, []byte("\x00\x00stats"), tag("memcached"))
	reg.RegisterPattern("memcached", nil, classify.UDP, 6, []byte("\x00\x00gets "), tag("memcached"))

	simpleTCP(reg, "hbase", "HBas\x00")
	simpleTCP(reg, "hadoop", "hrpc\x09")

	reg.RegisterPattern("hdfs", nil, classify.TCP, 0, []byte{0x00, 0x1c, 0x50}, classifyHDFS)
	reg.RegisterPattern("hdfs", nil, classify.TCP, 0, []byte{0x00, 0x1c, 0x51}, classifyHDFS)
	reg.RegisterPattern("hdfs", nil, classify.TCP, 0, []byte{0x00, 0x1c, 0x55}, classifyHDFS)

	simpleTCP(reg, "zookeeper", "zk_version")
	simpleTCP(reg, "zookeeper", "mntr\n")
	simpleTCP(reg, "zookeeper", "\x00\x00\x00\x2c\x00\x00\x00\x00")
	simpleTCP(reg, "zookeeper", "\x00\x00\x00\x2d\x00\x00\x00\x00")

	reg.RegisterPort("sccp", nil, classify.TCPDstPort, 2000, classifySCCP)
	reg.RegisterPort("wudo", nil, classify.TCPDstPort, 7680, classifyWudo)

	reg.RegisterPort("hsrp", nil, classify.UDPPort, 1985, classifyHSRP)
	reg.RegisterPort("hsrp", nil, classify.UDPPort, 2029, classifyHSRP)

	simpleTCP(reg, "elasticsearch", "ES\x00\x00")

	reg.RegisterPort("safet", nil, classify.UDPPort, 23294, classifySafet)
	reg.RegisterPort("telnet", nil, classify.TCPDstPort, 23, classifyTelnet)
	reg.RegisterPort("whois", nil, classify.TCPDstPort, 43, tag("whois"))
	reg.RegisterPort("finger", nil, classify.TCPDstPort, 79, tag("finger"))

	simpleTCP(reg, "rtsp", "RTSP/1.0 ")

	simpleBoth(reg, "dnp3", "\x05\x64")
}

func classifyIMAP(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) <= 5 || !bytes.Contains(data[5:], []byte("IMAP")) {
		return
	}
	host.EmitProtocol(s, "imap")
}

// classifyOther220 mirrors the source's three-way split on a generic
// "220 " SMTP-family banner: LMTP if the literal appears, FTP if
// neither SMTP nor a STARTTLS-style " TLS" appears, otherwise nothing
// (it is assumed to be plain SMTP, tagged by the caller elsewhere).
func classifyOther220(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	switch {
	case bytes.Contains(data, []byte("LMTP")):
		host.EmitProtocol(s, "lmtp")
	case !bytes.Contains(data, []byte("SMTP")) && !bytes.Contains(data, []byte(" TLS")):
		host.EmitProtocol(s, "ftp")
	}
}

func classifyVNC(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) >= 12 && data[7] == '.' && data[11] == 0x0a {
		host.EmitProtocol(s, "vnc")
	}
}

func classifyJabber(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) > 5 && bytes.Contains(data[5:], []byte("jabber")) {
		host.EmitProtocol(s, "jabber")
	}
}

// classifyUser distinguishes a bare IRC "USER " command (which this
// module does not separately model) from an application login by
// requiring the absence of IRC's NICK/"+iw" companions, matching the
// source's disambiguation heuristic. It does not itself extract a
// field — userField emission lives in mqtt/rdp, the two parsers that
// actually need it in this port.
func classifyUser(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) <= 5 || bytes.Contains(data, []byte("\nNICK ")) || bytes.Contains(data, []byte(" +iw ")) {
		return
	}
	host.EmitProtocol(s, "user")
}

func classifyThrift(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) > 20 && data[4] == 0x80 && data[5] == 0x01 && data[6] == 0x00 {
		host.EmitProtocol(s, "thrift")
	}
}

func classifyNTP(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	p1, p2 := s.Endpoints[0].Port, s.Endpoints[1].Port
	if (p1 != 123 && p2 != 123) || len(data) < 48 || data[1] > 16 {
		return
	}
	host.EmitProtocol(s, "ntp")
}

func classifySyslog(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	for i := 2; i < len(data); i++ {
		if data[i] == '>' {
			host.EmitProtocol(s, "syslog")
			return
		}
		if data[i] < '0' || data[i] > '9' {
			return
		}
	}
}

func classifyFlap(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 6 {
		return
	}
	flen := 6 + (int(data[4])<<8 | int(data[5]))
	if len(data) < flen {
		return
	}
	if len(data) == flen || data[flen] == '*' {
		host.EmitProtocol(s, "flap")
	}
}

func classifyTacacs(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if s.Endpoints[0].Port == 49 || s.Endpoints[1].Port == 49 {
		host.EmitProtocol(s, "tacacs")
	}
}

func classifyDropboxLanSync(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) > 1 && bytes.Contains(data[1:], []byte("host_int")) {
		host.EmitProtocol(s, "dropbox-lan-sync")
	}
}

func classifyKafka(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 10 || data[4] != 0 || data[5] > 6 || data[7] != 0 {
		return
	}
	flen := 4 + (int(data[2])<<8 | int(data[3]))
	if len(data) != flen {
		return
	}
	host.EmitProtocol(s, "kafka")
}

func classifyRIP(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if s.Endpoints[0].Port != 520 && s.Endpoints[1].Port != 520 {
		return
	}
	host.EmitProtocol(s, "rip")
}

func classifyArubaPAPI(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 20 || data[0] != 0x49 || data[1] != 0x72 {
		return
	}
	host.EmitProtocol(s, "aruba-papi")
}

func classifyHDFS(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 10 || data[5] != 0x0a {
		return
	}
	host.EmitProtocol(s, "hdfs")
}

func classifySCCP(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) > 20 && len(data) >= int(data[0])+8 && bytes.Equal(data[1:8], make([]byte, 7)) {
		host.EmitProtocol(s, "sccp")
	}
}

func classifyWudo(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 15 {
		return
	}
	if bytes.Equal(data[:4], []byte{0, 0, 0, 0}) || bytes.Equal(data[:15], []byte("\x0eSwarm protocol")) {
		host.EmitProtocol(s, "wudo")
	}
}

func classifyHSRP(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if s.Endpoints[0].Port != s.Endpoints[1].Port || len(data) < 3 {
		return
	}
	switch {
	case data[0] == 0 && data[1] == 3:
		host.EmitProtocol(s, "hsrp")
	case data[0] == 1 && data[1] == 40 && data[2] == 2:
		host.EmitProtocol(s, "hsrpv2")
	}
}

func classifySafet(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 24 || int(data[2]) != len(data) {
		return
	}
	host.EmitProtocol(s, "safet")
}

func classifyTelnet(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, _ any) {
	if len(data) < 3 || data[0] != 0xff || data[1] < 0xfa {
		return
	}
	host.EmitProtocol(s, "telnet")
}
