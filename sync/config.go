// Package sync implements the synchronization plugin and the sync loop
// state machine of spec §4.3 and §4.5: the central component that reads
// editor transactions, talks to the content client, and rebases
// outstanding local edits against remote ones.
//
// Grounded on eventsync/sync_service.go's SyncServiceImpl (client
// registration, version-scoped client tracking) and
// eventsync/websocket_client.go's handleMessage dispatch, re-expressed
// as the client-side InitState/InitStream/Submit/ReceiveOperation
// iteration contract this spec names instead of the teacher's
// server-side register/broadcast one.
package sync

import (
	"encoding/json"

	"github.com/syncot-labs/otcore/content"
	"github.com/syncot-labs/otcore/editor"
	"github.com/syncot-labs/otcore/otcoreerr"
	"github.com/syncot-labs/otcore/schema"
)

// Config is the plugin configuration of spec §6: "{type, id,
// contentClient, onError?}".
type Config struct {
	Type   string
	ID     string
	Client content.Client
	// OnError receives every error the loop cannot recover from locally
	// (spec §7 "All other errors pass through onError"). May be nil, in
	// which case such errors are dropped rather than re-thrown -- Go has
	// no implicit exception propagation for a background loop to
	// re-throw into.
	OnError func(error)

	// Local is this client's schema descriptor.
	Local schema.Descriptor

	// DecodeSteps parses an operation's data field into foreign steps
	// (spec §4.5 ReceiveOperation point 6).
	DecodeSteps func(data json.RawMessage) ([]editor.Step, error)
	// DecodeDoc parses a snapshot's data field into a document when no
	// schema migration is required (snapshot.schema == Local.Hash).
	DecodeDoc func(data json.RawMessage) (editor.Doc, error)
	// EncodeDoc serializes a document for submission as the initial
	// registration operation's data (spec §4.5 InitState).
	EncodeDoc func(doc editor.Doc) (json.RawMessage, error)
	// DecodeTree parses a snapshot's data field into the generic node
	// tree schema.Migrate operates over, used only when the snapshot's
	// schema differs from Local and migration is attempted.
	DecodeTree func(data json.RawMessage) (*schema.Tree, error)
	// TreeToDoc converts a (possibly migrated) tree back into the
	// editor's native document representation.
	TreeToDoc func(tree *schema.Tree) (editor.Doc, error)
	// LocalDoc returns the current live document, used as the
	// authoritative content when no remote content exists yet (spec
	// §4.5 InitState: "no remote content yet; the local document is
	// authoritative").
	LocalDoc func() editor.Doc
}

// validate checks Config against spec §6's Assert conditions: "type and
// id must be strings; contentClient must be a non-null object; onError
// must be callable or absent." Go's type system already enforces the
// shape of each field; what remains to check is non-emptiness/non-nil,
// which is where a caller assembling Config by hand can still go wrong.
func (c Config) validate() error {
	if c.Type == "" {
		return otcoreerr.AssertError{Message: "type must be a non-empty string"}
	}
	if c.ID == "" {
		return otcoreerr.AssertError{Message: "id must be a non-empty string"}
	}
	if c.Client == nil {
		return otcoreerr.AssertError{Message: "contentClient must be non-null"}
	}
	if c.DecodeSteps == nil || c.DecodeDoc == nil || c.EncodeDoc == nil ||
		c.DecodeTree == nil || c.TreeToDoc == nil || c.LocalDoc == nil {
		return otcoreerr.AssertError{Message: "all document/step codecs must be supplied"}
	}
	return nil
}
