// Package textdoc is a minimal reference "editor runtime" used to test
// the sync core: a flat-text document (standing in for the pre-order
// linearization of a real tree-structured document, spec §3) with
// insert/delete steps. It is the one place the teacher's CRDT document
// model (luvjson/crdt) could not be reused directly -- CRDT nodes merge,
// they do not invert -- so this package is a from-scratch, minimal
// implementation of the same "document + steppable edits" shape the
// teacher's package plays for its own patch model.
package textdoc

import (
	"encoding/json"
	"fmt"

	"github.com/syncot-labs/otcore/editor"
)

// Doc is a flat-text document. Every spec §8 scenario operates on a
// single paragraph of text, so a string buffer is a faithful enough
// stand-in for the pre-order linearization of a tree document.
type Doc struct {
	Text string
}

// New returns a new document with the given text.
func New(text string) *Doc {
	return &Doc{Text: text}
}

// Equal implements editor.Doc.
func (d *Doc) Equal(other editor.Doc) bool {
	o, ok := other.(*Doc)
	if !ok {
		return false
	}
	return d.Text == o.Text
}

// InsertStep inserts Content at Pos.
type InsertStep struct {
	Pos     int
	Content string
}

// DeleteStep removes the half-open range [From, To).
type DeleteStep struct {
	From, To int
}

type stepJSON struct {
	Type    string `json:"type"`
	Pos     int    `json:"pos,omitempty"`
	From    int    `json:"from,omitempty"`
	To      int    `json:"to,omitempty"`
	Content string `json:"content,omitempty"`
}

// Apply implements editor.Step.
func (s *InsertStep) Apply(doc editor.Doc) (editor.Doc, error) {
	d := doc.(*Doc)
	if s.Pos < 0 || s.Pos > len(d.Text) {
		return nil, fmt.Errorf("textdoc: insert position %d out of range [0,%d]", s.Pos, len(d.Text))
	}
	return &Doc{Text: d.Text[:s.Pos] + s.Content + d.Text[s.Pos:]}, nil
}

// Invert implements editor.Step: the inverse of an insert is deleting the
// same range in the document that results from applying it.
func (s *InsertStep) Invert(preDoc editor.Doc) editor.Step {
	return &DeleteStep{From: s.Pos, To: s.Pos + len(s.Content)}
}

// Map implements editor.Step. An insertion is a zero-width replacement
// whose position should bias like DeleteStep.From (assoc=1): when a
// foreign insertion lands at the exact same point, this step's position
// must land after it, so the foreign text appears first in the document
// (spec §4.2: "the foreign insertion appears first").
func (s *InsertStep) Map(mapping *editor.Mapping) (editor.Step, bool) {
	pos, deleted := mapping.MapResult(s.Pos, 1)
	if deleted {
		return nil, false
	}
	return &InsertStep{Pos: pos, Content: s.Content}, true
}

// MarshalJSON implements editor.Step's stable wire serialization.
func (s *InsertStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepJSON{Type: "insert", Pos: s.Pos, Content: s.Content})
}

// StepMap returns this step's position map: text grows by len(Content)
// starting at Pos.
func (s *InsertStep) StepMap() *editor.StepMap {
	return editor.NewStepMap([]int{s.Pos, 0, len(s.Content)})
}

// Apply implements editor.Step.
func (s *DeleteStep) Apply(doc editor.Doc) (editor.Doc, error) {
	d := doc.(*Doc)
	if s.From < 0 || s.To > len(d.Text) || s.From > s.To {
		return nil, fmt.Errorf("textdoc: delete range [%d,%d) out of range [0,%d]", s.From, s.To, len(d.Text))
	}
	return &Doc{Text: d.Text[:s.From] + d.Text[s.To:]}, nil
}

// Invert implements editor.Step: the inverse of a delete is re-inserting
// the text it removed, read from the pre-delete document.
func (s *DeleteStep) Invert(preDoc editor.Doc) editor.Step {
	d := preDoc.(*Doc)
	return &InsertStep{Pos: s.From, Content: d.Text[s.From:s.To]}
}

// Map implements editor.Step.
func (s *DeleteStep) Map(mapping *editor.Mapping) (editor.Step, bool) {
	from, _ := mapping.MapResult(s.From, 1)
	to, _ := mapping.MapResult(s.To, -1)
	if to <= from {
		// The whole deleted range was already erased by an intervening
		// step: nothing left for this step to do (spec §4.2: "A local
		// delete that duplicates a foreign delete becomes a no-op and
		// is discarded").
		return nil, false
	}
	return &DeleteStep{From: from, To: to}, true
}

// MarshalJSON implements editor.Step's stable wire serialization.
func (s *DeleteStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(stepJSON{Type: "delete", From: s.From, To: s.To})
}

// StepMap returns this step's position map: the range [From,To) collapses
// to a single point.
func (s *DeleteStep) StepMap() *editor.StepMap {
	return editor.NewStepMap([]int{s.From, s.To - s.From, 0})
}

// UnmarshalStep parses a step previously produced by MarshalJSON. This is
// the deserialization half of spec §3's "stable JSON serialization" used
// when the sync loop decodes operation.data into foreign steps (spec
// §4.5 ReceiveOperation point 6).
func UnmarshalStep(data []byte) (editor.Step, error) {
	var raw stepJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	switch raw.Type {
	case "insert":
		return &InsertStep{Pos: raw.Pos, Content: raw.Content}, nil
	case "delete":
		return &DeleteStep{From: raw.From, To: raw.To}, nil
	default:
		return nil, fmt.Errorf("textdoc: unknown step type %q", raw.Type)
	}
}
