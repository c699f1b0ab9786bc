/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package mqtt implements the MQTT CONNECT classifier (§4.6): a CONNECT
// packet's variable header carries the protocol name "MQ..." and, when
// the username flag is set, a length-prefixed username field near the
// end of the payload layout.
package mqtt

import (
	"github.com/gravwell/flowcore/bytespan"
	"github.com/gravwell/flowcore/classify"
	"github.com/gravwell/flowcore/fields"
	"github.com/gravwell/flowcore/flowsession"
	"github.com/gravwell/flowcore/packet"
)

const (
	flagWill     = 0x04
	flagUsername = 0x80
)

// Register adds the MQTT CONNECT classifier to reg. userField is the
// pre-resolved field id for "user".
func Register(reg *classify.Registry, userField fields.ID) {
	reg.RegisterPattern("mqtt", userField, classify.TCP, 0, []byte{0x10}, classifyPayload)
}

func classifyPayload(s *flowsession.State, host flowsession.Host, data []byte, dir packet.Direction, userdata any) {
	if len(data) < 30 || data[4] != 'M' || data[5] != 'Q' {
		return
	}
	host.EmitProtocol(s, "mqtt")

	r := bytespan.New(data)
	r.Skip(2)

	nameLen := int(r.U16BE())
	r.Skip(nameLen)

	r.Skip(1) // protocol level

	flags := r.U8()

	r.Skip(2) // keep alive

	idLen := int(r.U16BE())
	r.Skip(idLen)

	if flags&flagWill != 0 {
		topicLen := int(r.U16BE())
		r.Skip(topicLen)
		msgLen := int(r.U16BE())
		r.Skip(msgLen)
	}

	if flags&flagUsername == 0 {
		return
	}
	userLen := int(r.U16BE())
	user := r.PeekPtr(userLen)
	r.Skip(userLen)
	if r.Err() || len(user) != userLen {
		return
	}
	id, ok := userdata.(fields.ID)
	if !ok || id == fields.Invalid {
		return
	}
	host.EmitFieldLowercase(s, id, user)
}
