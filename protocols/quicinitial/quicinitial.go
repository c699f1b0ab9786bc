/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package quicinitial decrypts the Client Hello carried in a QUIC/IETF
// Initial packet (§4.6). Unlike every other classifier in this module
// it does real cryptography: the Initial packet's header protection and
// payload are both derived from a key schedule seeded only by the
// connection's destination connection id and a standards-fixed salt, so
// "decryption" here needs no captured handshake secret, just RFC 9000's
// published derivation.
package quicinitial

import (
	"github.com/gravwell/flowcore/bytespan"
	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/cryptofacade"
	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

// initialSalt is the version-1 Initial salt from RFC 9001 §5.2 (draft-33
// carries the same constant). §6.3 requires this literal value.
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// TLSClientHelloFuncName is the name looked up via flowsession.NamedFuncs
// to resolve the host-supplied TLS ClientHello parser (§6.1
// named_func_lookup), the same indirection the legacy CHLO path avoids by
// parsing its own tag table instead of real TLS.
const TLSClientHelloFuncName = "tls_process_client_hello"

// ClientHelloFields is passed as the userdata argument to the resolved
// TLS ClientHello parser (§6.1 named_func_call's userdata parameter) so
// it knows which pre-registered field ids to emit SNI/version into.
// The host's registered parser type-asserts its userdata argument back
// to this type.
type ClientHelloFields struct {
	HostField    fields.ID
	UAField      fields.ID
	VersionField fields.ID
}

type regUserdata struct {
	NamedFuncs flowsession.NamedFuncs
	CH         ClientHelloFields
}

// Register adds the QUIC/IETF Initial classifier to reg. namedFuncs
// resolves the host's TLS ClientHello parser; hostField/uaField/versionField
// are the pre-resolved field ids for quic.host, quic.user-agent, and
// quic.version.
func Register(reg *classify.Registry, namedFuncs flowsession.NamedFuncs, hostField, uaField, versionField fields.ID) {
	ud := regUserdata{
		NamedFuncs: namedFuncs,
		CH: ClientHelloFields{
			HostField:    hostField,
			UAField:      uaField,
			VersionField: versionField,
		},
	}
	// Registered at offset 1 against the version field's fixed bytes for
	// QUIC version 1, mirroring the original registration's "look for
	// version-1 datagrams" pattern trigger; the classify callback does
	// the length and long-header-form checks §4.6 actually requires.
	reg.RegisterPattern("quic", ud, classify.UDP, 1, []byte{0x00, 0x00, 0x00, 0x01}, classifyPayload)
}

func classifyPayload(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, userdata any) {
	if len(data) < 1200 || len(data) > 3000 {
		return
	}
	if data[0]&0xf0 != 0xc0 {
		return
	}
	ud, ok := userdata.(regUserdata)
	if !ok {
		return
	}

	r := bytespan.New(data)
	flags := r.U8()
	r.Skip(4) // version

	dcidLen := int(r.U8())
	dcid := r.PeekPtr(dcidLen)
	r.Skip(dcidLen)
	if r.Err() || len(dcid) != dcidLen {
		return
	}

	scidLen := int(r.U8())
	if scidLen != 0 {
		return
	}

	tokenLen := readVarint(r)
	r.Skip(int(tokenLen))

	packetLen := readVarint(r)
	if r.Err() {
		return
	}
	if int(packetLen) != r.Remaining() {
		return
	}

	samplePos := r.Position() + 4
	if samplePos+16 > len(data) {
		return
	}
	maskInput := data[samplePos : samplePos+16]

	prk := cryptofacade.HKDFExtract(initialSalt, dcid)
	clientSecret, err := cryptofacade.HKDFExpandLabel(prk, "client in", 32)
	if err != nil {
		return
	}
	hpKey, err := cryptofacade.HKDFExpandLabel(clientSecret, "quic hp", 16)
	if err != nil {
		return
	}
	key, err := cryptofacade.HKDFExpandLabel(clientSecret, "quic key", 16)
	if err != nil {
		return
	}
	iv, err := cryptofacade.HKDFExpandLabel(clientSecret, "quic iv", 12)
	if err != nil {
		return
	}

	mask, err := cryptofacade.AESECBEncryptBlock(hpKey, maskInput)
	if err != nil {
		return
	}

	packet0 := flags ^ (mask[0] & 0x0f)
	pnLength := int(packet0&0x03) + 1
	if pnLength > 2 {
		return
	}

	headerLen := r.Position()
	pnBytes := data[headerLen : headerLen+pnLength]
	var pn uint64
	for i := 0; i < pnLength; i++ {
		b := pnBytes[i] ^ mask[i+1]
		pn = pn<<8 | uint64(b)
	}

	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	nonce[len(nonce)-2] ^= byte(pn >> 8)
	nonce[len(nonce)-1] ^= byte(pn)

	aad := make([]byte, headerLen+pnLength)
	copy(aad, data[:headerLen])
	aad[0] = packet0
	for i := 0; i < pnLength; i++ {
		aad[headerLen+i] = pnBytes[i] ^ mask[i+1]
	}

	ciphertext := data[headerLen+pnLength:]
	plaintext, err := cryptofacade.AESGCMDecrypt(key, nonce, ciphertext, aad)
	if err != nil {
		return
	}

	host.EmitProtocol(s, "quic")
	if ud.CH.VersionField != fields.Invalid {
		host.EmitField(s, ud.CH.VersionField, []byte("1"), false)
	}

	crypto := assembleCryptoFrames(plaintext)
	if len(crypto) == 0 || ud.NamedFuncs == nil {
		return
	}
	fn, found := ud.NamedFuncs.Lookup(TLSClientHelloFuncName)
	if !found || fn == nil {
		return
	}
	fn(s, crypto, ud.CH)
}

// assembleCryptoFrames walks decrypted QUIC frames (§4.6 step 12):
// PADDING/PING are skipped, CRYPTO frames are reassembled at their
// declared offset, and any other frame type stops the walk (partial
// decrypt is still useful if a CRYPTO frame was already collected).
func assembleCryptoFrames(plaintext []byte) []byte {
	r := bytespan.New(plaintext)
	var buf []byte
	for r.Remaining() > 1 && !r.Err() {
		typ := r.U8()
		if r.Err() {
			break
		}
		switch typ {
		case 0, 1: // PADDING, PING
			continue
		case 6: // CRYPTO
			offset := readVarint(r)
			length := readVarint(r)
			if r.Err() {
				return buf
			}
			data := r.PeekPtr(int(length))
			r.Skip(int(length))
			if r.Err() || len(data) != int(length) {
				return buf
			}
			end := int(offset) + int(length)
			if end > len(buf) {
				grown := make([]byte, end)
				copy(grown, buf)
				buf = grown
			}
			copy(buf[offset:], data)
		default:
			return buf
		}
	}
	return buf
}

// readVarint reads an RFC 9000 §16 variable-length integer: the top two
// bits of the first byte select a 1/2/4/8-byte encoding whose remaining
// bits (after masking) are the integer's high bits.
func readVarint(r *bytespan.Reader) uint64 {
	first := r.U8()
	if r.Err() {
		return 0
	}
	width := 1
	switch first & 0xc0 {
	case 0x00:
		return uint64(first & 0x3f)
	case 0x40:
		width = 2
	case 0x80:
		width = 4
	default:
		width = 8
	}
	r.Rewind(1)
	switch width {
	case 2:
		return uint64(r.U16BE()) & 0x3fff
	case 4:
		return uint64(r.U32BE()) & 0x3fffffff
	default:
		return r.U64BE() & 0x3fffffffffffffff
	}
}
