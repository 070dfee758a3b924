// Package content declares the content-client contract consumed by the
// sync loop (spec §1, §6, §9 "Dynamic dispatch on content client"):
// registerSchema, getSchema, getSnapshot, submitOperation,
// streamOperations, and an active signal gating read/write access.
//
// Grounded on eventsync.SyncService/SyncClient (homveloper-boss-raid-game):
// the same register/unregister/broadcast capability set, re-expressed as
// a single client-held interface instead of a server-side registry,
// because this module models the client side of the relationship only.
package content

import (
	"context"
	"encoding/json"
	"time"

	"github.com/syncot-labs/otcore/schema"
)

// Operation is a server-acknowledged, versioned batch of steps over a
// document (spec §3 Operation, GLOSSARY).
type Operation struct {
	Key     string          `json:"key"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Version int64           `json:"version"`
	Schema  string          `json:"schema"` // schema hash the steps were encoded under
	Data    json.RawMessage `json:"data"`   // serialized steps, or the serialized document for the initial registration operation
	Meta    Meta            `json:"meta,omitempty"`
}

// Meta carries the submission-time context the sync loop attaches to the
// initial registration operation: the acting user, session and wall-clock
// time. Operations carrying ordinary pending steps are submitted with a
// zero Meta.
type Meta struct {
	User    string    `json:"user,omitempty"`
	Session string    `json:"session,omitempty"`
	Now     time.Time `json:"now,omitempty"`
}

// Snapshot is a full document at a specific version (spec §3 Snapshot).
// A server returns a synthetic base snapshot at Version == BaseVersion
// when no document exists yet.
type Snapshot struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Version int64           `json:"version"`
	Schema  string          `json:"schema"`
	Data    json.RawMessage `json:"data"`
	Meta    Meta            `json:"meta,omitempty"`
}

// BaseVersion is the version a synthetic base snapshot carries when the
// requested document does not yet exist (spec §3: "returns a synthetic
// base snapshot at version = min when no document exists yet").
const BaseVersion int64 = 0

// OperationStream is the lazy, strictly-increasing-in-version sequence
// streamOperations produces (spec §6 streamOperations). Operations is
// closed when the stream ends or Close is called; Err reports the
// terminal error, if any, only after Operations is closed (the same
// "drain then check" contract eventsync's receiveLoop implements with a
// blocking ReadMessage followed by an error check).
type OperationStream interface {
	Operations() <-chan Operation
	Err() error
	Close() error
}

// Client is the capability set spec §9 names for dynamic dispatch on
// the content client: registerSchema, getSchema, getSnapshot,
// submitOperation, streamOperations, identity and an active-transition
// signal.
type Client interface {
	// RegisterSchema registers local with the server, idempotently
	// (spec §6 registerSchema).
	RegisterSchema(ctx context.Context, local schema.Descriptor) error

	// GetSchema looks up a previously registered schema by hash (spec
	// §6 getSchema). ok is false if the server does not recognize hash.
	GetSchema(ctx context.Context, hash string) (data schema.Data, ok bool, err error)

	// GetSnapshot fetches the document at the newest version not after
	// atMostVersion, or a base snapshot if the document does not exist
	// (spec §6 getSnapshot).
	GetSnapshot(ctx context.Context, docType, id string, atMostVersion int64) (Snapshot, error)

	// SubmitOperation submits op. It fails with
	// otcoreerr.AlreadyExistsError when another operation already
	// claimed op.Key or op.Version (spec §6 submitOperation, §7).
	SubmitOperation(ctx context.Context, op Operation) error

	// StreamOperations opens a stream of operations in
	// [fromVersion, toVersion) for (docType, id) (spec §6
	// streamOperations).
	StreamOperations(ctx context.Context, docType, id string, fromVersion, toVersion int64) (OperationStream, error)

	// Identity returns the session and user identifiers this client
	// submits operations under.
	Identity() (user, session string)

	// Active reports whether the client is currently authenticated and
	// able to read/write content, and a channel that receives a value
	// every time Active transitions false -> true (spec §6 "active:
	// bool; event active fires on transition false->true").
	Active() (active bool, transitions <-chan struct{})
}
