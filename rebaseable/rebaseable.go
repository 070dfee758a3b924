// Package rebaseable defines the Rebaseable triple (spec §3, §4.1): a
// local step paired with its inverse and, once submitted, the key of the
// outbound operation it belongs to.
//
// Grounded on luvjson/crdtpatch/patch.go and operation.go: the same shape
// (an edit paired with identity/inversion metadata, with a stable JSON
// wire form) the teacher uses for its patch operations, generalized from
// CRDT operations (which never invert) to OT steps (which must).
package rebaseable

import (
	"encoding/json"

	"github.com/syncot-labs/otcore/editor"
)

// Rebaseable is a step paired with its inverse and, once the step has
// been assigned to an in-flight outbound operation, that operation's key
// (spec §3 invariant R1, §4.1).
type Rebaseable struct {
	Step        editor.Step
	InvertedStep editor.Step
	OperationKey string // empty until assigned (spec §3)
}

// New builds a Rebaseable for a step just produced by a local
// transaction: its inverse is computed against the document as it stood
// immediately before the step applied (spec §4.1).
func New(step editor.Step, preDoc editor.Doc) Rebaseable {
	return Rebaseable{
		Step:        step,
		InvertedStep: step.Invert(preDoc),
	}
}

// FromTransaction builds one Rebaseable per step in tr, each inverted
// against the document snapshot tr.PreStep(i) reports for that step
// (spec §4.1: "for each step produced by a local transaction...").
func FromTransaction(tr *editor.Transaction) []Rebaseable {
	out := make([]Rebaseable, len(tr.Steps))
	for i, step := range tr.Steps {
		var pre editor.Doc
		if tr.PreStep != nil {
			pre = tr.PreStep(i)
		}
		out[i] = New(step, pre)
	}
	return out
}

// WithKey returns a copy of r with OperationKey set to key. Rebaseables
// are never mutated in place (spec §3: "pendingSteps... mutated only by
// rebase-replacement"); assigning a key produces a new value.
func (r Rebaseable) WithKey(key string) Rebaseable {
	r.OperationKey = key
	return r
}

// MarshalSteps serializes the steps of rs, in order, to the JSON form
// carried as an Operation's data field (spec §3: "an ordered list of
// JSON-serialized steps").
func MarshalSteps(rs []Rebaseable) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(rs))
	for i, r := range rs {
		data, err := r.Step.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

// LeadingKeyGroup returns the contiguous prefix of pending sharing a
// non-empty operation key with pending[0] (spec §3 invariant P2, §4.5
// Submit: "the contiguous leading run of pending sharing the head's
// operation key").
func LeadingKeyGroup(pending []Rebaseable) []Rebaseable {
	if len(pending) == 0 || pending[0].OperationKey == "" {
		return nil
	}
	key := pending[0].OperationKey
	i := 0
	for i < len(pending) && pending[i].OperationKey == key {
		i++
	}
	return pending[:i]
}

// LeadingUnkeyedRun returns the length of the contiguous prefix of pending
// whose items currently lack an operation key (spec §4.5 Submit: "assign a fresh key
// to every contiguous leading Rebaseable that currently lacks one").
func LeadingUnkeyedRun(pending []Rebaseable) int {
	i := 0
	for i < len(pending) && pending[i].OperationKey == "" {
		i++
	}
	return i
}

// DropConfirmed returns pending with its leading run of items whose key
// equals key removed (spec §4.5 ReceiveOperation point 5, §8 Round-trip
// invariant: "removes exactly the Rebaseables whose operationKey
// matches, without altering any other pending step").
func DropConfirmed(pending []Rebaseable, key string) []Rebaseable {
	i := 0
	for i < len(pending) && pending[i].OperationKey == key {
		i++
	}
	out := make([]Rebaseable, len(pending)-i)
	copy(out, pending[i:])
	return out
}
