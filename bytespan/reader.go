/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package bytespan implements a bounded reader over an immutable byte
// slice. It is the single input-validation primitive used by every
// protocol parser in this module: reads past the end of the span never
// panic or read out of bounds, they set a sticky error flag and return
// zero. Callers check Err() once at the end of a parse pass rather than
// after every field.
package bytespan

import "encoding/binary"

// Reader is a forward cursor over a borrowed byte slice. The zero value
// is not usable; construct with New or Sub.
type Reader struct {
	buf []byte
	pos int
	err bool
}

// New creates a Reader over buf. The slice is borrowed, not copied.
func New(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err reports whether any read, skip, sub-reader or rewind since
// construction ran off either end of the span. The flag is sticky: once
// set it is never cleared.
func (r *Reader) Err() bool {
	return r.err
}

// Len returns the total length of the underlying span.
func (r *Reader) Len() int {
	return len(r.buf)
}

// Position returns the current read offset.
func (r *Reader) Position() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.pos >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) []byte {
	if r.err || n < 0 || r.pos+n > len(r.buf) {
		r.err = true
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// U8 reads a single byte.
func (r *Reader) U8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// U16BE reads a big-endian uint16.
func (r *Reader) U16BE() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// U16LE reads a little-endian uint16.
func (r *Reader) U16LE() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32BE reads a big-endian uint32.
func (r *Reader) U32BE() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// U32LE reads a little-endian uint32.
func (r *Reader) U32LE() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64BE reads a big-endian uint64.
func (r *Reader) U64BE() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Skip advances the cursor by n bytes without returning them.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Rewind moves the cursor back n bytes. Rewinding past the start of the
// span is itself an error condition.
func (r *Reader) Rewind(n int) {
	if n < 0 || n > r.pos {
		r.err = true
		return
	}
	r.pos -= n
}

// Sub returns a new bounded Reader over the next n bytes, advancing this
// reader's cursor past them. The sub-reader shares the backing array; no
// copy is made. On underrun the sub-reader is already in the error
// state.
func (r *Reader) Sub(n int) *Reader {
	b := r.take(n)
	if b == nil {
		return &Reader{err: true}
	}
	return &Reader{buf: b}
}

// PeekPtr returns a borrowed n-byte slice at the current position
// without advancing the cursor. It does not set the error flag; callers
// that need strict bounds checking should compare the returned slice's
// length against n.
func (r *Reader) PeekPtr(n int) []byte {
	if r.pos+n > len(r.buf) || n < 0 {
		if r.pos >= len(r.buf) {
			return nil
		}
		return r.buf[r.pos:]
	}
	return r.buf[r.pos : r.pos+n]
}
