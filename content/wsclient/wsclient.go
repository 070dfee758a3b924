// Package wsclient is a content.Client over a single duplex WebSocket
// connection to a content server.
//
// Grounded on eventsync/websocket_client.go's WebSocketClient: a
// connection plus a receiveLoop goroutine dispatching by message Type,
// generalized from the teacher's server-side "accept events, dispatch
// sync requests" role to the client-side "issue RPCs, multiplex
// streamed operations by request id" role the content client needs.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/syncot-labs/otcore/content"
	"github.com/syncot-labs/otcore/otcoreerr"
	"github.com/syncot-labs/otcore/schema"
)

// envelope is the wire shape of every message exchanged over the
// connection: a request/response correlation id, a type tag, and a
// type-specific payload, following WebSocketMessage's "Type plus
// optional fields" shape but adding the id this client needs to
// correlate concurrent RPCs over one connection.
type envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Kind  string `json:"kind"`  // "alreadyExists" | "other"
	Key   string `json:"key,omitempty"`
	Value int64  `json:"value,omitempty"`
	Text  string `json:"text,omitempty"`
}

func (e *wireError) toError() error {
	if e == nil {
		return nil
	}
	if e.Kind == "alreadyExists" {
		return otcoreerr.AlreadyExistsError{Key: otcoreerr.AlreadyExistsKey(e.Key), Value: e.Value}
	}
	return errors.New(e.Text)
}

// Client is a content.Client that issues every call as a request/reply
// envelope over conn, and demultiplexes streamOperations data frames by
// the stream id the server's streamOperations reply assigns to the
// matching open stream.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger
	user   string
	session string

	nextID int64

	mu       sync.Mutex
	pending  map[string]chan envelope
	streams  map[string]*stream
	writeMu  sync.Mutex
	active   bool
	transitions chan struct{}
	closed   bool
}

// New wraps conn as a content.Client and starts its receive loop. user
// and session identify this client's outbound operations.
func New(conn *websocket.Conn, user, session string, logger *zap.Logger) *Client {
	c := &Client{
		conn:        conn,
		logger:      logger,
		user:        user,
		session:     session,
		pending:     make(map[string]chan envelope),
		streams:     make(map[string]*stream),
		active:      true,
		transitions: make(chan struct{}, 1),
	}
	go c.receiveLoop()
	return c
}

func (c *Client) receiveLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("content websocket closed unexpectedly", zap.Error(err))
			}
			c.shutdown(err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("failed to decode content message", zap.Error(err))
			continue
		}

		switch env.Type {
		case "streamData", "streamClose", "streamError":
			c.mu.Lock()
			st := c.streams[env.ID]
			c.mu.Unlock()
			if st != nil {
				st.deliver(env)
			}
		case "active":
			c.mu.Lock()
			was := c.active
			c.active = true
			c.mu.Unlock()
			if !was {
				select {
				case c.transitions <- struct{}{}:
				default:
				}
			}
		case "inactive":
			c.mu.Lock()
			c.active = false
			c.mu.Unlock()
		default:
			c.mu.Lock()
			ch := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- env
				close(ch)
			}
		}
	}
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.pending {
		close(ch)
	}
	for _, st := range c.streams {
		st.closeWithErr(cause)
	}
}

func (c *Client) call(ctx context.Context, typ string, payload any) (envelope, error) {
	id := fmt.Sprintf("%d", atomic.AddInt64(&c.nextID, 1))
	body, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, errors.Wrap(err, "encode content request")
	}

	reply := make(chan envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return envelope{}, errors.New("content client closed")
	}
	c.pending[id] = reply
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteJSON(envelope{ID: id, Type: typ, Payload: body})
	c.writeMu.Unlock()
	if err != nil {
		return envelope{}, errors.Wrap(err, "write content request")
	}

	select {
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	case env, ok := <-reply:
		if !ok {
			return envelope{}, errors.New("content client closed before reply")
		}
		if env.Error != nil {
			return envelope{}, env.Error.toError()
		}
		return env, nil
	}
}

func (c *Client) RegisterSchema(ctx context.Context, local schema.Descriptor) error {
	_, err := c.call(ctx, "registerSchema", local)
	return err
}

func (c *Client) GetSchema(ctx context.Context, hash string) (schema.Data, bool, error) {
	env, err := c.call(ctx, "getSchema", map[string]string{"hash": hash})
	if err != nil {
		return schema.Data{}, false, err
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return schema.Data{}, false, nil
	}
	var d schema.Data
	if err := json.Unmarshal(env.Payload, &d); err != nil {
		return schema.Data{}, false, errors.Wrap(err, "decode schema data")
	}
	return d, true, nil
}

func (c *Client) GetSnapshot(ctx context.Context, docType, id string, atMostVersion int64) (content.Snapshot, error) {
	env, err := c.call(ctx, "getSnapshot", map[string]any{"type": docType, "id": id, "atMostVersion": atMostVersion})
	if err != nil {
		return content.Snapshot{}, err
	}
	var snap content.Snapshot
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		return content.Snapshot{}, errors.Wrap(err, "decode snapshot")
	}
	return snap, nil
}

func (c *Client) SubmitOperation(ctx context.Context, op content.Operation) error {
	_, err := c.call(ctx, "submitOperation", op)
	return err
}

func (c *Client) StreamOperations(ctx context.Context, docType, id string, fromVersion, toVersion int64) (content.OperationStream, error) {
	env, err := c.call(ctx, "streamOperations", map[string]any{
		"type": docType, "id": id, "fromVersion": fromVersion, "toVersion": toVersion,
	})
	if err != nil {
		return nil, err
	}
	var ack struct {
		StreamID string `json:"streamId"`
	}
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		return nil, errors.Wrap(err, "decode stream ack")
	}

	st := newStream()
	c.mu.Lock()
	c.streams[ack.StreamID] = st
	c.mu.Unlock()
	return st, nil
}

func (c *Client) Identity() (user, session string) { return c.user, c.session }

func (c *Client) Active() (bool, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.transitions
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	c.shutdown(nil)
	return c.conn.Close()
}

// stream implements content.OperationStream, fed by the client's
// receiveLoop as streamData/streamClose/streamError envelopes arrive
// for its id.
type stream struct {
	ch     chan content.Operation
	once   sync.Once
	err    error
	mu     sync.Mutex
	closed bool
}

func newStream() *stream {
	return &stream{ch: make(chan content.Operation, 64)}
}

func (s *stream) deliver(env envelope) {
	switch env.Type {
	case "streamData":
		var op content.Operation
		if err := json.Unmarshal(env.Payload, &op); err != nil {
			s.closeWithErr(errors.Wrap(err, "decode streamed operation"))
			return
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.ch <- op
		}
	case "streamClose":
		s.closeWithErr(nil)
	case "streamError":
		s.closeWithErr(env.Error.toError())
	}
}

func (s *stream) closeWithErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}

func (s *stream) Operations() <-chan content.Operation { return s.ch }
func (s *stream) Err() error                           { return s.err }
func (s *stream) Close() error {
	s.closeWithErr(nil)
	return nil
}
