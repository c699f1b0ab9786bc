/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package tlshello is a minimal RFC 8446 §4.1.2 ClientHello reader: just
// enough to pull the server_name extension's hostname out of a
// reassembled handshake message. It exists to be registered under
// quicinitial.TLSClientHelloFuncName via a flowsession.NamedFuncs
// implementation (§6.1) — the QUIC Initial decryptor hands it
// already-decrypted CRYPTO-frame bytes and never needs to know a TLS
// record from a QUIC frame.
package tlshello

import (
	"github.com/gravwell/flowcore/bytespan"
	"github.com/gravwell/flowcore/hostnorm"
)

const extensionServerName = 0

// read24BE reads TLS's 3-byte big-endian length prefix, used for the
// Handshake struct's body length (there is no native uint24 type).
func read24BE(r *bytespan.Reader) uint32 {
	b := r.PeekPtr(3)
	r.Skip(3)
	if r.Err() || len(b) != 3 {
		return 0
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// ExtractSNI walks a ClientHello handshake message's extensions
// looking for server_name (type 0) and returns the first hostname in
// its server_name_list, normalized to ASCII/ACE form. data is a single
// TLS Handshake message (type 1, ClientHello body) — quicinitial hands
// it already-decrypted, reassembled CRYPTO-frame bytes, never a raw TLS
// record. The caller (the host application's flowsession.NamedFuncs
// entry for quicinitial.TLSClientHelloFuncName) is responsible for
// emitting the result through its own flowsession.Host, since
// flowsession.NamedFunc carries no Host parameter.
func ExtractSNI(data []byte) (string, bool) {
	r := bytespan.New(data)
	msgType := r.U8()
	if r.Err() || msgType != 1 {
		return "", false
	}
	bodyLen := read24BE(r)
	body := r.PeekPtr(int(bodyLen))
	if r.Err() || len(body) != int(bodyLen) {
		return "", false
	}

	br := bytespan.New(body)
	br.Skip(2)  // client_version
	br.Skip(32) // random
	sidLen := int(br.U8())
	br.Skip(sidLen) // session_id

	cipherSuitesLen := int(br.U16BE())
	br.Skip(cipherSuitesLen)

	compressionLen := int(br.U8())
	br.Skip(compressionLen)

	if br.Err() || br.Remaining() < 2 {
		return "", false
	}
	extsLen := int(br.U16BE())
	extsBody := br.PeekPtr(extsLen)
	if br.Err() || len(extsBody) != extsLen {
		return "", false
	}

	er := bytespan.New(extsBody)
	for er.Remaining() >= 4 {
		extType := er.U16BE()
		extLen := int(er.U16BE())
		extData := er.PeekPtr(extLen)
		er.Skip(extLen)
		if er.Err() || len(extData) != extLen {
			return "", false
		}
		if extType != extensionServerName {
			continue
		}
		return parseServerNameList(extData)
	}
	return "", false
}

func parseServerNameList(extData []byte) (string, bool) {
	r := bytespan.New(extData)
	listLen := int(r.U16BE())
	list := r.PeekPtr(listLen)
	if r.Err() || len(list) != listLen {
		return "", false
	}
	lr := bytespan.New(list)
	for lr.Remaining() >= 3 {
		nameType := lr.U8()
		nameLen := int(lr.U16BE())
		name := lr.PeekPtr(nameLen)
		lr.Skip(nameLen)
		if lr.Err() || len(name) != nameLen {
			return "", false
		}
		if nameType == 0 {
			return hostnorm.ToASCII(string(name)), true
		}
	}
	return "", false
}
