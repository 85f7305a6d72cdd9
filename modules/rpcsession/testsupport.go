// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package rpcsession

// This file exposes the wire-level framing to other packages' tests so
// they can stand up a fake remote-container endpoint without depending on
// a real crosis gateway. It intentionally carries no production logic of
// its own.

// Envelope is the exported mirror of envelope, for test doubles that need
// to read or write raw frames.
type Envelope struct {
	ChannelID uint32
	RefID     uint64
	Tag       Tag
	Body      any
}

// EncodeFrame serializes one frame for a fake server to write back over
// the wire.
func EncodeFrame(channelID uint32, refID uint64, tag Tag, body any) ([]byte, error) {
	payload, err := encodeBody(tag, body)
	if err != nil {
		return nil, err
	}
	return marshalFrame(envelope{ChannelID: channelID, RefID: refID, Tag: tag, Payload: payload})
}

// DecodeFrame parses one frame a fake server received from the client.
func DecodeFrame(data []byte) (Envelope, error) {
	env, err := unmarshalFrame(data)
	if err != nil {
		return Envelope{}, err
	}
	body, err := decodeBody(env.Tag, env.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ChannelID: env.ChannelID, RefID: env.RefID, Tag: env.Tag, Body: body}, nil
}
