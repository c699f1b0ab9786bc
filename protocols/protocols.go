/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package protocols wires every concrete classifier package into a
// single classify.Registry (§4, §9). A host application needing a
// ready-to-run registry calls RegisterAll once at startup rather than
// importing and calling each sub-package's Register individually.
package protocols

import (
	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/protocols/gh0st"
	"github.com/gravwell/flowcore/protocols/isakmp"
	"github.com/gravwell/flowcore/protocols/mqtt"
	"github.com/gravwell/flowcore/protocols/netflow"
	"github.com/gravwell/flowcore/protocols/patterns"
	"github.com/gravwell/flowcore/protocols/quicinitial"
	"github.com/gravwell/flowcore/protocols/quiclegacy"
	"github.com/gravwell/flowcore/protocols/rdp"
	"github.com/gravwell/flowcore/protocols/stun"
)

// RegisterAll resolves every field this module's parsers emit into via
// fieldReg, then registers every classifier package against reg.
// namedFuncs resolves the host-supplied TLS ClientHello parser the QUIC
// Initial decryptor needs (§6.1); it may be nil if the host never
// registers one, in which case quicinitial still decrypts, tags "quic"
// and emits the version field, but never extracts the SNI/UA fields.
func RegisterAll(reg *classify.Registry, fieldReg fields.Registry, namedFuncs flowsession.NamedFuncs) {
	userField := fieldReg.FieldByName(fields.NameUser)
	quicHost := fieldReg.FieldByName(fields.NameQUICHost)
	quicUA := fieldReg.FieldByName(fields.NameQUICUserAgent)
	quicVersion := fieldReg.FieldByName(fields.NameQUICVersion)

	gh0st.Register(reg)
	isakmp.Register(reg)
	mqtt.Register(reg, userField)
	netflow.Register(reg)
	rdp.Register(reg, userField)
	stun.Register(reg)
	quicinitial.Register(reg, namedFuncs, quicHost, quicUA, quicVersion)
	quiclegacy.Register(reg, quicHost, quicUA, quicVersion)
	patterns.Register(reg)
}
