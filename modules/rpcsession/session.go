// Copyright ©️ Replit Takeout Contributors. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package rpcsession implements the multiplexed, channelised bidirectional
// RPC connection to a remote container described in spec.md §4.3: a
// single reader goroutine demultiplexes inbound frames into per-request
// reply slots and per-channel unsolicited-message queues, so no channel
// state is shared across goroutines except through that one demuxer.
package rpcsession

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

const controlChannelID uint32 = 0

type pendingReply struct {
	tag     Tag
	payload any
	err     error
}

type channelState struct {
	id          uint32
	unsolicited chan frameMsg
	closed      atomic.Bool
}

type frameMsg struct {
	tag     Tag
	payload any
}

// Session is one authenticated WebSocket connection to a remote container,
// safe for concurrent Open and Request calls from multiple goroutines.
type Session struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	channelsMu sync.Mutex
	channels   map[uint32]*channelState
	nextChID   uint32

	pendingMu sync.Mutex
	pending   map[uint64]chan pendingReply
	nextRefID uint64

	bootOnce     sync.Once
	bootComplete chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
	readErrMu sync.Mutex
}

// newSession wraps an already-established WebSocket connection and starts
// its demultiplexing reader loop. Control channel 0 is pre-registered so
// the BootStatus handshake can be observed before any service channel is
// opened.
func newSession(conn *websocket.Conn) *Session {
	s := &Session{
		conn:         conn,
		channels:     make(map[uint32]*channelState),
		pending:      make(map[uint64]chan pendingReply),
		bootComplete: make(chan struct{}),
		done:         make(chan struct{}),
		nextChID:     1,
	}
	s.channels[controlChannelID] = &channelState{id: controlChannelID, unsolicited: make(chan frameMsg, 16)}
	go s.readLoop()
	return s
}

// WaitBoot blocks until a BootStatus{Complete} has been observed on the
// control channel, or ctx is cancelled, or the session dies first.
func (s *Session) WaitBoot(ctx context.Context) error {
	select {
	case <-s.bootComplete:
		return nil
	case <-s.done:
		return s.readError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) readError() error {
	s.readErrMu.Lock()
	defer s.readErrMu.Unlock()
	if s.readErr == nil {
		return ErrWebsocketClosed
	}
	return s.readErr
}

func (s *Session) setReadError(err error) {
	s.readErrMu.Lock()
	s.readErr = err
	s.readErrMu.Unlock()
}

// readLoop owns the WebSocket connection for reads; it is the only
// goroutine that ever calls conn.ReadMessage.
func (s *Session) readLoop() {
	defer s.teardown(ErrWebsocketClosed)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setReadError(fmt.Errorf("%w: %v", ErrWebsocketClosed, err))
			return
		}
		env, err := unmarshalFrame(data)
		if err != nil {
			continue
		}
		body, err := decodeBody(env.Tag, env.Payload)
		if err != nil {
			continue
		}
		if env.RefID != 0 {
			s.deliverReply(env.RefID, env.Tag, body, nil)
			continue
		}
		s.deliverUnsolicited(env.ChannelID, env.Tag, body)
	}
}

func (s *Session) deliverReply(refID uint64, tag Tag, body any, err error) {
	s.pendingMu.Lock()
	ch, ok := s.pending[refID]
	if ok {
		delete(s.pending, refID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return
	}
	ch <- pendingReply{tag: tag, payload: body, err: err}
}

func (s *Session) deliverUnsolicited(channelID uint32, tag Tag, body any) {
	s.channelsMu.Lock()
	ch, ok := s.channels[channelID]
	s.channelsMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch.unsolicited <- frameMsg{tag: tag, payload: body}:
	case <-s.done:
		return
	}
	if channelID == controlChannelID {
		if boot, ok := body.(*BootStatus); ok && boot.Stage == BootStatusComplete {
			s.bootOnce.Do(func() { close(s.bootComplete) })
		}
	}
}

// teardown closes every channel's unsolicited queue and fails every
// pending request exactly once, regardless of how many times it's
// invoked.
func (s *Session) teardown(cause error) {
	s.closeOnce.Do(func() {
		s.setReadError(cause)
		close(s.done)

		s.pendingMu.Lock()
		for refID, ch := range s.pending {
			ch <- pendingReply{err: cause}
			delete(s.pending, refID)
		}
		s.pendingMu.Unlock()

		s.channelsMu.Lock()
		for _, ch := range s.channels {
			if ch.closed.CompareAndSwap(false, true) {
				close(ch.unsolicited)
			}
		}
		s.channelsMu.Unlock()
	})
}

// Destroy tears down every channel and the underlying connection. It is
// idempotent.
func (s *Session) Destroy() error {
	s.teardown(ErrSessionDestroyed)
	return s.conn.Close()
}

func (s *Session) writeFrame(channelID uint32, refID uint64, tag Tag, body any) error {
	payload, err := encodeBody(tag, body)
	if err != nil {
		return err
	}
	data, err := marshalFrame(envelope{ChannelID: channelID, RefID: refID, Tag: tag, Payload: payload})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return s.readError()
	default:
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrWebsocketClosed, err)
	}
	return nil
}

// request sends a command on channelID expecting exactly one correlated
// reply, per spec.md §4.3. It is safe to call concurrently from multiple
// goroutines sharing the same channel.
func (s *Session) request(ctx context.Context, channelID uint32, tag Tag, body any) (Tag, any, error) {
	refID := atomic.AddUint64(&s.nextRefID, 1)
	replyCh := make(chan pendingReply, 1)
	s.pendingMu.Lock()
	s.pending[refID] = replyCh
	s.pendingMu.Unlock()

	if err := s.writeFrame(channelID, refID, tag, body); err != nil {
		s.pendingMu.Lock()
		delete(s.pending, refID)
		s.pendingMu.Unlock()
		return 0, nil, err
	}

	select {
	case reply := <-replyCh:
		if reply.err != nil {
			return 0, nil, reply.err
		}
		if reply.tag == TagError {
			if eb, ok := reply.payload.(*ErrorBody); ok {
				return 0, nil, fmt.Errorf("%w: %s", ErrRpcFatal, eb.Message)
			}
		}
		return reply.tag, reply.payload, nil
	case <-s.done:
		return 0, nil, s.readError()
	case <-ctx.Done():
		s.pendingMu.Lock()
		delete(s.pending, refID)
		s.pendingMu.Unlock()
		return 0, nil, ctx.Err()
	}
}

// Open opens a service channel, per spec.md §4.3. The caller must have
// already observed BootStatus{Complete} via WaitBoot.
func (s *Session) Open(ctx context.Context, service string, persistentID string, action ChannelAction) (*Channel, error) {
	select {
	case <-s.bootComplete:
	default:
		return nil, fmt.Errorf("%w: session not booted", ErrProtocolViolation)
	}

	tag, payload, err := s.request(ctx, controlChannelID, TagOpenChannel, &OpenChannel{
		Service:      service,
		Action:       action,
		PersistentID: persistentID,
	})
	if err != nil {
		return nil, err
	}
	res, ok := payload.(*OpenChannelRes)
	if tag != TagOpenChannelRes || !ok {
		return nil, fmt.Errorf("%w: expected OpenChannelRes", ErrProtocolViolation)
	}

	s.channelsMu.Lock()
	state, exists := s.channels[res.ID]
	if !exists {
		state = &channelState{id: res.ID, unsolicited: make(chan frameMsg, 64)}
		s.channels[res.ID] = state
	}
	s.channelsMu.Unlock()

	return &Channel{session: s, id: res.ID, state: state}, nil
}
