/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package fields defines the write-only contract the core uses to emit
// extracted application fields (user names, hostnames, version
// strings). The registry that backs a FieldID and the storage it
// eventually lands in belong to the host; this package only names the
// shape of the handoff.
package fields

// ID is an opaque, pre-registered field identifier. The zero value is
// never a valid registered field.
type ID uint32

// Invalid is returned by a FieldRegistry lookup that found no match.
const Invalid ID = 0

// Category and Kind describe a field at definition time; both are
// opaque strings from the core's perspective; the host interprets them.
type Category string
type Kind string

// Well-known field names this module's parsers emit into. Hosts are
// expected to have pre-registered these via FieldDefine before any
// packet is processed; FieldByName resolves the name to an ID once at
// startup and the resolved ID is cached by the caller.
const (
	NameUser           = "user"
	NameQUICHost       = "quic.host"
	NameQUICUserAgent  = "quic.user-agent"
	NameQUICVersion    = "quic.version"
)

// Sink is the write-only interface the core uses to push extracted
// field values upstream. Implementations are supplied by the host.
type Sink interface {
	// EmitFieldLowercase lowercases data (ASCII) before storing it.
	EmitFieldLowercase(id ID, data []byte)
	// EmitField stores data verbatim. If copy is true the sink must
	// not retain a reference to data beyond the call (the core may
	// reuse the backing buffer).
	EmitField(id ID, data []byte, copy bool)
}

// Registry resolves field names to IDs. FieldByName/FieldDefine are
// startup-only operations: the core never calls them from the hot
// packet-processing path.
type Registry interface {
	FieldByName(name string) ID
	FieldDefine(category Category, kind Kind, exportable bool, desc, dbname string) ID
}
