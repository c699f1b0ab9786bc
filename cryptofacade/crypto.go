/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package cryptofacade is a thin adapter over vetted crypto libraries
// for the handful of primitives the QUIC Initial decryptor needs:
// HKDF-Extract/Expand-Label over SHA-256, AES-128-ECB single block,
// AES-128-GCM, and HMAC-SHA-256. None of these are novel; this package
// exists only to give the TLS 1.3 key-schedule shape (§4.9, §6.3) a
// single, testable home instead of scattering raw crypto/x calls
// through the QUIC parser.
package cryptofacade

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrShortInput  = errors.New("cryptofacade: input too short")
	ErrBadBlockLen = errors.New("cryptofacade: AES block must be 16 bytes")
)

// HKDFExtract implements RFC 5869 HKDF-Extract over SHA-256.
func HKDFExtract(salt, ikm []byte) []byte {
	mac := hmac.New(sha256.New, salt)
	mac.Write(ikm)
	return mac.Sum(nil)
}

// HKDFExpandLabel implements the TLS 1.3 (RFC 8446 §7.1) key schedule
// expansion: label is prefixed with "tls13 " and the context is always
// empty for the QUIC Initial secrets this module derives.
func HKDFExpandLabel(secret []byte, label string, length int) ([]byte, error) {
	fullLabel := "tls13 " + label
	info := make([]byte, 0, 2+1+len(fullLabel)+1)
	info = binary.BigEndian.AppendUint16(info, uint16(length))
	info = append(info, byte(len(fullLabel)))
	info = append(info, fullLabel...)
	info = append(info, 0) // empty context

	r := hkdf.Expand(sha256.New, secret, info)
	out := make([]byte, length)
	if _, err := r.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// AESECBEncryptBlock encrypts exactly one 16-byte block with AES-128 in
// ECB mode (no chaining — this is the QUIC header-protection mask
// computation, not bulk encryption; stdlib does not expose an ECB
// cipher.BlockMode because it should never be used for more than a
// single block, which is exactly this use).
func AESECBEncryptBlock(key, block []byte) ([]byte, error) {
	if len(block) != aes.BlockSize {
		return nil, ErrBadBlockLen
	}
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aes.BlockSize)
	c.Encrypt(out, block)
	return out, nil
}

// AESGCMDecrypt decrypts ciphertext (which must include the trailing
// 16-byte authentication tag) with AES-128-GCM under key/nonce,
// authenticating aad.
func AESGCMDecrypt(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(c)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrShortInput
	}
	return gcm.Open(nil, nonce, ciphertext, aad)
}

// HMACSHA256 computes HMAC-SHA-256(key, data).
func HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
