package sync

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/syncot-labs/otcore/content"
	"github.com/syncot-labs/otcore/editor"
	"github.com/syncot-labs/otcore/otcoreerr"
	"github.com/syncot-labs/otcore/pluginstate"
	"github.com/syncot-labs/otcore/rebase"
	"github.com/syncot-labs/otcore/rebaseable"
	"github.com/syncot-labs/otcore/schema"
	"github.com/syncot-labs/otcore/scheduler"
)

// maxVersion stands in for "no upper bound" in getSnapshot/streamOperations
// calls: it is getSnapshot's atMostVersion and streamOperations' exclusive
// toVersion (maxVersion+1 would overflow int64).
const maxVersion int64 = math.MaxInt64

// Loop is the sync loop state machine of spec §4.5: it reads the
// editor's plugin state, talks to the content client, and dispatches
// plugin-state-replacing transactions back into the editor.
type Loop struct {
	cfg  Config
	view editor.View
	sched *scheduler.Loop

	mu                   sync.Mutex
	stream               content.OperationStream
	hasStream            bool
	streamForVersion      int64
	streamQueue          []content.Operation // operations relayed off stream, awaiting tick
	streamClosed         bool
	streamErr            error
	lastObservedVersion   int64
	minVersionForSubmit   int64
	disallowSchemaChange  bool
	allowSchemaChangeBefore time.Time
}

// New returns a Loop over view, not yet running.
// allowSchemaChangeBefore is fixed at construction time and never
// refreshed by a later RegisterSchema call (spec §9 open question:
// refreshing it would let a client silently re-accept a schema it had
// already rejected as stale).
func New(cfg Config, view editor.View) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Loop{
		cfg:                   cfg,
		view:                  view,
		lastObservedVersion:   pluginstate.Sentinel,
		allowSchemaChangeBefore: time.Now(),
	}, nil
}

// Run drives the loop until ctx is cancelled or the editor view is torn
// down. It blocks; call it from its own goroutine.
func (l *Loop) Run(ctx context.Context) {
	l.sched = scheduler.New(l.cfg.OnError)
	if _, transitions := l.cfg.Client.Active(); transitions != nil {
		go l.watchActive(ctx, transitions)
	}
	l.sched.Run(ctx, l.tick)
}

// watchActive wakes the loop on every content client active
// false->true transition (spec §6 "event active fires on transition
// false->true"; spec §4.5 Driver lists "the content client's active
// event" as one of the wake sources). Like relayStream, it only ever
// calls NotifyStateChanged, never anything that touches the editor or
// document, so tick remains the sole caller of those.
func (l *Loop) watchActive(ctx context.Context, transitions <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-transitions:
			l.NotifyStateChanged()
		}
	}
}

// NotifyStateChanged wakes the loop. Call it whenever a transaction is
// dispatched into the editor (spec §4.5 Driver point (a): "the editor
// state changes").
func (l *Loop) NotifyStateChanged() {
	if l.sched != nil {
		l.sched.Notify()
	}
}

func (l *Loop) tick(ctx context.Context) (bool, error) {
	if l.view.Gone() {
		l.mu.Lock()
		l.closeStreamLocked()
		l.mu.Unlock()
		return true, nil
	}

	st, ok := l.stateWithPlugin()
	if !ok {
		return true, otcoreerr.AssertError{Message: "editor state does not expose plugin state"}
	}
	state := st.PluginState()
	v := state.Version
	pending := state.PendingSteps

	l.mu.Lock()
	if v != l.lastObservedVersion {
		l.closeStreamLocked()
		l.lastObservedVersion = v
	}
	active, _ := l.cfg.Client.Active()
	streamCurrent := l.hasStream && l.streamForVersion == v
	l.mu.Unlock()

	if !active {
		return false, nil
	}

	switch {
	case v == pluginstate.Sentinel:
		return false, l.initState(ctx)
	case !streamCurrent:
		return false, l.initStream(ctx, v)
	}

	// Fold stream consumption into this same single-task iteration
	// instead of a free-running goroutine (spec §4.6: "one iteration
	// runs at a time"): drain at most one already-buffered operation per
	// tick, then let the self-notify it raises drive the next tick
	// before falling through to submit.
	if handled, err := l.drainStream(); handled || err != nil {
		return false, err
	}

	return false, l.submit(ctx, v, pending)
}

// drainStream hands one already-relayed operation to receiveOperation,
// if any is queued. The relay goroutine started by initStream only
// moves data off the stream's channel into streamQueue and wakes the
// loop; it never itself calls receiveOperation or Dispatch, so this
// method -- run from tick -- remains the only place that does.
func (l *Loop) drainStream() (handled bool, err error) {
	l.mu.Lock()
	var op content.Operation
	switch {
	case len(l.streamQueue) > 0:
		op = l.streamQueue[0]
		l.streamQueue = l.streamQueue[1:]
		l.mu.Unlock()
	case l.streamClosed:
		streamErr := l.streamErr
		l.streamClosed = false
		l.hasStream = false
		l.mu.Unlock()
		if streamErr != nil {
			return true, errors.Wrap(streamErr, "operation stream closed")
		}
		l.NotifyStateChanged()
		return true, nil
	default:
		l.mu.Unlock()
		return false, nil
	}

	l.receiveOperation(op)
	l.NotifyStateChanged()
	return true, nil
}

// relayStream is the only goroutine besides tick's own that touches
// stream: it moves operations from the channel into streamQueue and
// wakes the loop, but never dispatches into the editor itself, so
// tick remains the sole caller of receiveOperation/Dispatch (spec
// §4.6: "one iteration runs at a time").
func (l *Loop) relayStream(stream content.OperationStream) {
	for op := range stream.Operations() {
		l.mu.Lock()
		if l.stream == stream {
			l.streamQueue = append(l.streamQueue, op)
		}
		l.mu.Unlock()
		l.NotifyStateChanged()
	}
	l.mu.Lock()
	if l.stream == stream {
		l.streamClosed = true
		l.streamErr = stream.Err()
	}
	l.mu.Unlock()
	l.NotifyStateChanged()
}

func (l *Loop) stateWithPlugin() (StateWithPlugin, bool) {
	s := l.view.State()
	st, ok := s.(StateWithPlugin)
	return st, ok
}

// closeStreamLocked must be called with l.mu held.
func (l *Loop) closeStreamLocked() {
	if l.stream != nil {
		l.stream.Close()
		l.stream = nil
	}
	l.hasStream = false
	l.streamQueue = nil
	l.streamClosed = false
	l.streamErr = nil
}

func (l *Loop) dispatchState(state pluginstate.State) {
	tr := &editor.Transaction{}
	tr.SetMeta(MetaKey, state)
	l.view.Dispatch(tr)
}

// initState implements spec §4.5 InitState.
func (l *Loop) initState(ctx context.Context) error {
	snap, err := l.cfg.Client.GetSnapshot(ctx, l.cfg.Type, l.cfg.ID, maxVersion)
	if err != nil {
		return errors.Wrap(err, "get snapshot")
	}

	var doc editor.Doc
	needsRegistration := false

	if snap.Schema != l.cfg.Local.Hash {
		switch {
		case snap.Version == content.BaseVersion:
			doc = l.cfg.LocalDoc()
			needsRegistration = true
		default:
			l.mu.Lock()
			disallow := l.disallowSchemaChange
			watermark := l.allowSchemaChangeBefore
			l.mu.Unlock()
			if disallow {
				return otcoreerr.SchemaConflictError{Kind: otcoreerr.RemoteOperationStale}
			}
			if !snap.Meta.Now.Before(watermark) {
				return otcoreerr.SchemaConflictError{Kind: otcoreerr.LocalSchemaStale}
			}
			oldData, ok, err := l.cfg.Client.GetSchema(ctx, snap.Schema)
			if err != nil {
				return errors.Wrap(err, "get old schema")
			}
			if !ok {
				return otcoreerr.SchemaConflictError{Kind: otcoreerr.MigrationFailed}
			}
			oldDescriptor := schema.New(snap.Type, oldData)
			tree, err := l.cfg.DecodeTree(snap.Data)
			if err != nil {
				return errors.Wrap(err, "decode snapshot tree")
			}
			migrated, err := schema.Migrate(tree, oldDescriptor, l.cfg.Local)
			if err != nil {
				return err
			}
			doc, err = l.cfg.TreeToDoc(migrated)
			if err != nil {
				return errors.Wrap(err, "convert migrated tree to document")
			}
			needsRegistration = true
		}
	} else {
		doc, err = l.cfg.DecodeDoc(snap.Data)
		if err != nil {
			return errors.Wrap(err, "decode snapshot document")
		}
	}

	newVersion := snap.Version

	if needsRegistration {
		if err := l.cfg.Client.RegisterSchema(ctx, l.cfg.Local); err != nil {
			return errors.Wrap(err, "register schema")
		}

		data, err := l.cfg.EncodeDoc(doc)
		if err != nil {
			return errors.Wrap(err, "encode document")
		}
		user, session := l.cfg.Client.Identity()
		op := content.Operation{
			Key:     uuid.NewString(),
			Type:    l.cfg.Type,
			ID:      l.cfg.ID,
			Version: snap.Version + 1,
			Schema:  l.cfg.Local.Hash,
			Data:    data,
			Meta:    content.Meta{User: user, Session: session, Now: time.Now()},
		}
		if err := l.cfg.Client.SubmitOperation(ctx, op); err != nil {
			if _, ok := err.(otcoreerr.AlreadyExistsError); ok {
				// Another client already registered/submitted this
				// version first; reinitialize against the now-current
				// snapshot on the next tick instead of clobbering it.
				l.NotifyStateChanged()
				return nil
			}
			return errors.Wrap(err, "submit registration operation")
		}
		newVersion = op.Version
	}

	if l.view.Gone() {
		return nil
	}
	if st, ok := l.stateWithPlugin(); ok && st.PluginState().Version != pluginstate.Sentinel {
		// The plugin state was externally replaced while this InitState
		// call was in flight; don't clobber it with a stale result.
		return nil
	}

	newState := pluginstate.WithVersionAndPending(newVersion, nil)
	if r, ok := l.view.(Reinitializer); ok {
		r.Reinit(doc, newState)
	} else {
		l.dispatchState(newState)
	}

	l.mu.Lock()
	l.lastObservedVersion = newVersion
	l.mu.Unlock()
	return nil
}

// initStream implements spec §4.5 InitStream.
func (l *Loop) initStream(ctx context.Context, v int64) error {
	stream, err := l.cfg.Client.StreamOperations(ctx, l.cfg.Type, l.cfg.ID, v+1, maxVersion)
	if err != nil {
		return errors.Wrap(err, "open operation stream")
	}

	l.mu.Lock()
	l.closeStreamLocked()
	l.stream = stream
	l.hasStream = true
	l.streamForVersion = v
	l.mu.Unlock()

	go l.relayStream(stream)
	return nil
}

// submit implements spec §4.5 Submit.
func (l *Loop) submit(ctx context.Context, v int64, pending []rebaseable.Rebaseable) error {
	if len(pending) == 0 {
		return nil
	}

	if pending[0].OperationKey == "" {
		n := rebaseable.LeadingUnkeyedRun(pending)
		keyed := make([]rebaseable.Rebaseable, len(pending))
		copy(keyed, pending)
		key := uuid.NewString()
		for i := 0; i < n; i++ {
			keyed[i] = keyed[i].WithKey(key)
		}
		l.dispatchState(pluginstate.WithVersionAndPending(v, keyed))
		return nil
	}

	opVersion := v + 1
	l.mu.Lock()
	minVersion := l.minVersionForSubmit
	l.mu.Unlock()
	if opVersion < minVersion {
		return nil
	}

	group := rebaseable.LeadingKeyGroup(pending)
	steps, err := rebaseable.MarshalSteps(group)
	if err != nil {
		return errors.Wrap(err, "marshal pending steps")
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return errors.Wrap(err, "marshal operation data")
	}

	op := content.Operation{
		Key:     group[0].OperationKey,
		Type:    l.cfg.Type,
		ID:      l.cfg.ID,
		Version: opVersion,
		Schema:  l.cfg.Local.Hash,
		Data:    data,
	}

	l.mu.Lock()
	l.minVersionForSubmit = opVersion + 1
	l.mu.Unlock()

	err = l.cfg.Client.SubmitOperation(ctx, op)
	if err == nil {
		return nil
	}
	if ae, ok := err.(otcoreerr.AlreadyExistsError); ok {
		switch ae.Key {
		case otcoreerr.KeyVersion:
			l.mu.Lock()
			if ae.Value+1 > l.minVersionForSubmit {
				l.minVersionForSubmit = ae.Value + 1
			}
			l.mu.Unlock()
			return nil
		case otcoreerr.KeyOperationKey:
			return nil
		}
	}
	l.mu.Lock()
	l.minVersionForSubmit = opVersion
	l.mu.Unlock()
	return err
}

// receiveOperation implements spec §4.5 ReceiveOperation.
func (l *Loop) receiveOperation(op content.Operation) {
	if l.view.Gone() {
		return
	}
	st, ok := l.stateWithPlugin()
	if !ok {
		return
	}
	state := st.PluginState()
	v := state.Version
	pending := state.PendingSteps

	if op.Version != v+1 {
		l.mu.Lock()
		l.closeStreamLocked()
		l.mu.Unlock()
		l.NotifyStateChanged()
		return
	}

	if op.Schema != l.cfg.Local.Hash {
		l.mu.Lock()
		l.disallowSchemaChange = true
		l.mu.Unlock()
		l.dispatchState(pluginstate.Init())
		if l.cfg.OnError != nil {
			l.cfg.OnError(otcoreerr.SchemaConflictError{Kind: otcoreerr.RemoteOperationStale})
		}
		l.NotifyStateChanged()
		return
	}

	if len(pending) > 0 && pending[0].OperationKey == op.Key {
		remaining := rebaseable.DropConfirmed(pending, op.Key)
		l.mu.Lock()
		l.lastObservedVersion = op.Version
		l.mu.Unlock()
		l.dispatchState(pluginstate.WithVersionAndPending(op.Version, remaining))
		l.NotifyStateChanged()
		return
	}

	foreignSteps, err := l.cfg.DecodeSteps(op.Data)
	if err != nil {
		if l.cfg.OnError != nil {
			l.cfg.OnError(errors.Wrap(err, "decode foreign operation steps"))
		}
		return
	}

	rebased, t := rebase.Rebase(st.Doc(), pending, foreignSteps)

	mapped := editor.MapSelection(st.Selection(), t.Mapping)
	newSel := &mapped

	// t.Steps is the full undo-local/apply-foreign/redo-local-rebased
	// sequence rebase.Rebase built starting from the editor's current
	// document (which already has pending's effect baked in); dispatching
	// only the foreign steps on their own would apply them against the
	// wrong base and leave pending's edits at their pre-rebase position
	// (spec §4.2 step 3).
	tr := &editor.Transaction{
		Steps:        t.Steps,
		Mapping:      t.Mapping,
		DocChanged:   true,
		Selection:    newSel,
		AddToHistory: false,
		Rebased:      len(pending),
	}
	tr.SetMeta(MetaKey, pluginstate.WithVersionAndPending(op.Version, rebased))

	l.mu.Lock()
	l.lastObservedVersion = op.Version
	l.mu.Unlock()

	l.view.Dispatch(tr)
	l.NotifyStateChanged()
}
