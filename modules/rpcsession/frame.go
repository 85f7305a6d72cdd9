// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package rpcsession

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	tbin "github.com/hackclub/replit-lifeboat/modules/binary"
)

// envelope is one frame on the wire: a channel id, an optional ref_id
// (zero means unsolicited), a body tag, and the tag-specific JSON payload.
//
// Wire shape, all integers big-endian (modules/binary convention):
//
//	[4]  channel_id
//	[8]  ref_id (0 = unsolicited)
//	[1]  tag
//	[4]  payload length
//	[..] payload (JSON)
type envelope struct {
	ChannelID uint32
	RefID     uint64
	Tag       Tag
	Payload   []byte
}

func encodeBody(tag Tag, body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}

func decodeBody(tag Tag, payload []byte) (any, error) {
	var v any
	switch tag {
	case TagPing:
		v = &struct{}{}
	case TagPong:
		v = &struct{}{}
	case TagBootStatus:
		v = &BootStatus{}
	case TagOpenChannel:
		v = &OpenChannel{}
	case TagOpenChannelRes:
		v = &OpenChannelRes{}
	case TagCloseChannel:
		v = &CloseChannel{}
	case TagReaddir:
		v = &Readdir{}
	case TagFiles:
		v = &Files{}
	case TagStat:
		v = &Stat{}
	case TagStatRes:
		v = &StatRes{}
	case TagRead:
		v = &Read{}
	case TagFile:
		v = &File{}
	case TagOtstatus:
		v = &Otstatus{}
	case TagOtLinkFile:
		v = &OtLinkFile{}
	case TagOtLinkFileResponse:
		v = &OtLinkFileResponse{}
	case TagOtFetchRequest:
		v = &OtFetchRequest{}
	case TagOtFetchResponse:
		v = &OtFetchResponse{}
	case TagSecretsGetRequest:
		v = &SecretsGetRequest{}
	case TagSecretsGetResponse:
		v = &SecretsGetResponse{}
	case TagError:
		v = &ErrorBody{}
	default:
		return nil, fmt.Errorf("%w: unknown body tag %d", ErrProtocolViolation, tag)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}
	}
	return v, nil
}

// marshalFrame serializes an envelope to a single binary WebSocket
// message, length-prefixing the payload the way modules/binary's helpers
// do for the rest of the codebase's on-disk formats.
func marshalFrame(e envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := tbin.Write(&buf, e.ChannelID, e.RefID, uint8(e.Tag), uint32(len(e.Payload))); err != nil {
		return nil, err
	}
	buf.Write(e.Payload)
	return buf.Bytes(), nil
}

// unmarshalFrame parses a single binary WebSocket message back into an
// envelope.
func unmarshalFrame(data []byte) (envelope, error) {
	r := bytes.NewReader(data)
	var channelID uint32
	var refID uint64
	var tag uint8
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &channelID); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if err := binary.Read(r, binary.BigEndian, &refID); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if err := binary.Read(r, binary.BigEndian, &tag); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return envelope{ChannelID: channelID, RefID: refID, Tag: Tag(tag), Payload: payload}, nil
}
