// Package pluginstate defines the immutable synchronization state attached
// to each editor state (spec §3, §4.3): the server-confirmed version and
// the contiguous run of unconfirmed local steps.
//
// Grounded on eventsync/state_vector.go's StateVector (a per-client,
// per-document version marker) and eventsync/snapshot.go (version/
// sequence tracking), generalized from a server-side tracked value keyed
// by client ID to an immutable value threaded through editor transactions.
package pluginstate

import "github.com/syncot-labs/otcore/rebaseable"

// Sentinel is one less than the minimum legitimate version (spec §3): a
// plugin state with Version == Sentinel has not yet been initialized
// from a snapshot.
const Sentinel int64 = -1

// State is the plugin's synchronization state: the server version the
// editor's current document reflects, and the local steps not yet
// confirmed by the server, in apply order (spec §3).
//
// State is never mutated in place; every transition produces a new
// value (spec §3 "Entity lifecycles", §5 "pendingSteps... never mutated
// in place").
type State struct {
	Version      int64
	PendingSteps []rebaseable.Rebaseable
}

// Init returns the state an editor starts construction with: no server
// version confirmed yet, nothing pending (spec §4.3 init()).
func Init() State {
	return State{Version: Sentinel}
}

// Editable reports whether the editor should accept local edits: it must
// not until initialization has produced a real server version (spec
// §4.3 editable(state), §4.5 "Uninitialized" state, §7 "the editor
// remains read-only... until the conflict clears").
func (s State) Editable() bool {
	return s.Version > Sentinel
}

// WithAppendedSteps returns a new state with the same Version and
// PendingSteps followed by the Rebaseables built from steps (spec §4.3
// apply: "pendingSteps ++ stepsOf(transaction)").
func (s State) WithAppendedSteps(steps []rebaseable.Rebaseable) State {
	merged := make([]rebaseable.Rebaseable, len(s.PendingSteps)+len(steps))
	copy(merged, s.PendingSteps)
	copy(merged[len(s.PendingSteps):], steps)
	return State{Version: s.Version, PendingSteps: merged}
}

// WithVersionAndPending returns a new state pinned to version with the
// given pending steps, used by every sync-loop transition that advances
// the confirmed version (init, confirmation, rebase, reset).
func WithVersionAndPending(version int64, pending []rebaseable.Rebaseable) State {
	return State{Version: version, PendingSteps: pending}
}
