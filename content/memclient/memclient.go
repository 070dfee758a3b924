// Package memclient is an in-memory content.Client, the shared fake
// backend scenario tests dispatch multiple peers against (spec §8
// scenarios: simple convergence, offline burst, three peers).
//
// Grounded on eventsync.SyncServiceImpl's clientsMutex-guarded maps and
// broadcast-to-subscribers shape, collapsed from "server process
// broadcasting to registered WebSocket clients" to "in-process Store
// broadcasting to channel-based stream subscribers" -- same
// mutex-protected fan-out, no network in between.
package memclient

import (
	"context"
	"sync"

	"github.com/syncot-labs/otcore/content"
	"github.com/syncot-labs/otcore/otcoreerr"
	"github.com/syncot-labs/otcore/schema"
)

// docKey identifies a document by type and id.
type docKey struct {
	typ string
	id  string
}

// Store is the shared state every Client created with it submits to and
// streams from: a version-ordered operation log per document, the
// latest snapshot per document, and the registered schema data by hash.
type Store struct {
	mu        sync.Mutex
	schemas   map[string]schema.Data
	snapshots map[docKey]content.Snapshot
	ops       map[docKey][]content.Operation
	keys      map[docKey]map[string]bool // seen operation keys, for AlreadyExists{key}
	subs      map[docKey][]*subscription
}

type subscription struct {
	ch     chan content.Operation
	closed bool
}

// NewStore returns an empty backend.
func NewStore() *Store {
	return &Store{
		schemas:   make(map[string]schema.Data),
		snapshots: make(map[docKey]content.Snapshot),
		ops:       make(map[docKey][]content.Operation),
		keys:      make(map[docKey]map[string]bool),
		subs:      make(map[docKey][]*subscription),
	}
}

func (s *Store) registerSchema(d schema.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[d.Hash] = d.Data
}

func (s *Store) getSchema(hash string) (schema.Data, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.schemas[hash]
	return d, ok
}

func (s *Store) getSnapshot(k docKey, atMostVersion int64) content.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best content.Snapshot
	ok := false
	for _, op := range s.ops[k] {
		if op.Version > atMostVersion {
			break
		}
		best = content.Snapshot{
			Type: op.Type, ID: op.ID, Version: op.Version,
			Schema: op.Schema, Data: op.Data, Meta: op.Meta,
		}
		ok = true
	}
	if !ok {
		return content.Snapshot{Type: k.typ, ID: k.id, Version: content.BaseVersion, Data: []byte("null")}
	}
	return best
}

func (s *Store) submit(op content.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := docKey{op.Type, op.ID}
	if s.keys[k] == nil {
		s.keys[k] = make(map[string]bool)
	}
	if s.keys[k][op.Key] {
		return otcoreerr.AlreadyExistsError{Key: otcoreerr.KeyOperationKey, Value: op.Version}
	}
	log := s.ops[k]
	nextVersion := content.BaseVersion + 1
	if len(log) > 0 {
		nextVersion = log[len(log)-1].Version + 1
	}
	if op.Version != nextVersion {
		return otcoreerr.AlreadyExistsError{Key: otcoreerr.KeyVersion, Value: nextVersion - 1}
	}

	s.keys[k][op.Key] = true
	s.ops[k] = append(log, op)
	s.snapshots[k] = content.Snapshot{Type: op.Type, ID: op.ID, Version: op.Version, Schema: op.Schema, Data: op.Data, Meta: op.Meta}

	for _, sub := range s.subs[k] {
		if !sub.closed {
			sub.ch <- op
		}
	}
	return nil
}

func (s *Store) subscribe(k docKey, fromVersion, toVersion int64) *stream {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscription{ch: make(chan content.Operation, 64)}
	s.subs[k] = append(s.subs[k], sub)

	for _, op := range s.ops[k] {
		if op.Version >= fromVersion && op.Version < toVersion {
			sub.ch <- op
		}
	}
	return &stream{store: s, key: k, sub: sub, toVersion: toVersion}
}

func (s *Store) unsubscribe(k docKey, sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	subs := s.subs[k]
	for i, x := range subs {
		if x == sub {
			s.subs[k] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// stream implements content.OperationStream over a subscription channel,
// closing itself, without delivering it, once it observes an operation at
// or past toVersion.
type stream struct {
	store     *Store
	key       docKey
	sub       *subscription
	toVersion int64
	out       chan content.Operation
	once      sync.Once
	err       error
}

func (st *stream) Operations() <-chan content.Operation {
	st.once.Do(func() {
		st.out = make(chan content.Operation, 64)
		go func() {
			defer close(st.out)
			for op := range st.sub.ch {
				if op.Version >= st.toVersion {
					return
				}
				st.out <- op
			}
		}()
	})
	return st.out
}

func (st *stream) Err() error { return st.err }

func (st *stream) Close() error {
	st.store.unsubscribe(st.key, st.sub)
	return nil
}

// Client is a content.Client backed by a shared Store, modeling one
// peer's session (spec §8 "three peers" needs three independent
// Clients over one Store).
type Client struct {
	store        *Store
	user, session string

	mu          sync.Mutex
	active      bool
	transitions chan struct{}
}

// New returns a Client submitting under (user, session) against store.
// It starts active; call SetActive(false) to simulate the content
// client losing authentication.
func New(store *Store, user, session string) *Client {
	return &Client{store: store, user: user, session: session, active: true, transitions: make(chan struct{}, 1)}
}

// SetActive flips the client's active flag, firing a transition
// notification on a false->true edge (spec §6).
func (c *Client) SetActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.active
	c.active = active
	if !was && active {
		select {
		case c.transitions <- struct{}{}:
		default:
		}
	}
}

func (c *Client) RegisterSchema(ctx context.Context, local schema.Descriptor) error {
	c.store.registerSchema(local)
	return nil
}

func (c *Client) GetSchema(ctx context.Context, hash string) (schema.Data, bool, error) {
	d, ok := c.store.getSchema(hash)
	return d, ok, nil
}

func (c *Client) GetSnapshot(ctx context.Context, docType, id string, atMostVersion int64) (content.Snapshot, error) {
	return c.store.getSnapshot(docKey{docType, id}, atMostVersion), nil
}

func (c *Client) SubmitOperation(ctx context.Context, op content.Operation) error {
	return c.store.submit(op)
}

func (c *Client) StreamOperations(ctx context.Context, docType, id string, fromVersion, toVersion int64) (content.OperationStream, error) {
	return c.store.subscribe(docKey{docType, id}, fromVersion, toVersion), nil
}

func (c *Client) Identity() (user, session string) { return c.user, c.session }

func (c *Client) Active() (bool, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active, c.transitions
}
