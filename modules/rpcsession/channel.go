// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package rpcsession

import (
	"context"
	"fmt"
)

// Channel is a handle to one multiplexed substream, scoped to a single
// remote service. A Channel may be shared by multiple goroutines; Request
// and Next are both safe for concurrent use.
type Channel struct {
	session *Session
	id      uint32
	state   *channelState
}

// ID returns the channel's numeric id on the wire.
func (c *Channel) ID() uint32 { return c.id }

// Request sends a command expecting exactly one reply, correlated by
// ref_id, per spec.md §4.3.
func (c *Channel) Request(ctx context.Context, tag Tag, body any) (Tag, any, error) {
	return c.session.request(ctx, c.id, tag, body)
}

// Next returns the channel's next unsolicited message.
func (c *Channel) Next(ctx context.Context) (Tag, any, error) {
	select {
	case msg, ok := <-c.state.unsolicited:
		if !ok {
			return 0, nil, c.session.readError()
		}
		return msg.tag, msg.payload, nil
	case <-c.session.done:
		return 0, nil, c.session.readError()
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Close releases the channel's demultiplexing queue. It does not send a
// CloseChannel frame on its own — callers that need the remote side to
// know should Request(TagCloseChannel) first.
func (c *Channel) Close() {
	c.session.channelsMu.Lock()
	defer c.session.channelsMu.Unlock()
	if c.state.closed.CompareAndSwap(false, true) {
		close(c.state.unsolicited)
	}
	delete(c.session.channels, c.id)
}

// RequestTyped wraps Request with the expected-tag check request sites
// repeat for every command: spec.md's protocol requires an exact body
// shape back, anything else is ProtocolViolation.
func RequestTyped[T any](ctx context.Context, c *Channel, reqTag Tag, body any, wantTag Tag) (*T, error) {
	tag, payload, err := c.Request(ctx, reqTag, body)
	if err != nil {
		return nil, err
	}
	if tag != wantTag {
		return nil, fmt.Errorf("%w: expected tag %d got %d", ErrProtocolViolation, wantTag, tag)
	}
	v, ok := payload.(*T)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload type", ErrProtocolViolation)
	}
	return v, nil
}
