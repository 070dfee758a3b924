// Package editor declares the contract the sync core consumes from the
// rich-text editor runtime: a document, invertible/mappable steps, a
// position mapping, transactions, selections and editor state/view
// handles (spec §1 "external collaborators", §3, §4.1, §9 "dynamic
// dispatch on content client" -- the same capability-set approach is used
// here for the editor side).
//
// The editor runtime itself is out of scope: this package only names the
// shape the rest of the module programs against. editor/textdoc supplies
// a minimal concrete implementation used by tests.
package editor

// Doc is an opaque document snapshot. The editor runtime owns the actual
// tree representation (spec §3); the core never inspects it, only threads
// it through Step.Apply/Invert and compares it in tests via Equal.
type Doc interface {
	Equal(other Doc) bool
}

// Step is an elementary, invertible, mappable edit (spec §3, §4.1).
type Step interface {
	// Apply yields the document produced by applying this step to doc.
	Apply(doc Doc) (Doc, error)

	// Invert yields a step that undoes this step's effect, computed
	// against the document state immediately before this step applied.
	Invert(preDoc Doc) Step

	// Map adjusts this step through mapping, reporting ok=false if the
	// step's effect has been wholly erased by an intervening edit.
	Map(mapping *Mapping) (mapped Step, ok bool)

	// MarshalJSON gives the step a stable wire serialization (spec §3).
	MarshalJSON() ([]byte, error)
}

// SelectionKind distinguishes the selection sum type named in spec §9
// ("Tagged variants"); only Text triggers the remap step of §4.5 point 6.
type SelectionKind int

const (
	SelectionText SelectionKind = iota
	SelectionNode
	SelectionAll
)

// Selection is the editor's current cursor/range. Anchor/Head are only
// meaningful for SelectionText; other kinds carry their own semantics the
// core never needs to inspect.
type Selection struct {
	Kind   SelectionKind
	Anchor int
	Head   int
}

// MapSelection maps a text selection's endpoints through mapping with bias
// -1 ("before"), per spec §4.5 point 6 ("so the caret does not jump past
// characters inserted at its position"). Non-text selections are returned
// unchanged: only a text selection's endpoints are meaningfully expressed
// as mappable positions.
func MapSelection(sel Selection, mapping *Mapping) Selection {
	if sel.Kind != SelectionText {
		return sel
	}
	return Selection{
		Kind:   SelectionText,
		Anchor: mapping.Map(sel.Anchor, -1),
		Head:   mapping.Map(sel.Head, -1),
	}
}

// Mapped is implemented by steps that can report the position map their
// own application produces, letting generic code (the Transform helper,
// the rebase engine) build a composite Mapping without knowing concrete
// step types.
type Mapped interface {
	StepMap() *StepMap
}

// Transaction accumulates steps applied to a document in one editor
// dispatch, alongside the composite mapping produced by those steps and
// any selection change. Rebaseable construction (spec §4.1) reads Steps
// and PreStep to compute each step's inverse against the right snapshot.
type Transaction struct {
	Steps   []Step
	Mapping *Mapping
	// PreStep is called before step i is appended, returning the
	// document as it stood immediately prior to applying step i. The
	// sync core uses this to build each step's inverse (spec §4.1).
	PreStep func(i int) Doc
	// DocChanged reports whether the transaction altered the document
	// (spec §4.3 apply: "if the transaction does not change the
	// document, return the previous state").
	DocChanged bool
	// Selection, if non-nil, is the transaction's resulting selection.
	Selection *Selection
	// AddToHistory controls undo-history enrollment; rebase-triggered
	// transactions set this false (spec §4.5 ReceiveOperation point 6).
	AddToHistory bool
	// Rebased, when > 0, tags the transaction as one the undo history
	// should treat as a rebase of `Rebased` pending items rather than a
	// fresh edit (spec §4.5 point 6, §4.3 "preserve items across step
	// merges").
	Rebased int
	// Meta carries out-of-band values attached to the transaction, such
	// as an explicit plugin-state replacement under the plugin's stable
	// metadata key (spec §4.3, §6 "Plugin-state metadata key").
	Meta map[string]any
}

// GetMeta returns tr.Meta[key] and whether it was present.
func (tr *Transaction) GetMeta(key string) (any, bool) {
	if tr.Meta == nil {
		return nil, false
	}
	v, ok := tr.Meta[key]
	return v, ok
}

// SetMeta attaches value to tr under key.
func (tr *Transaction) SetMeta(key string, value any) {
	if tr.Meta == nil {
		tr.Meta = make(map[string]any)
	}
	tr.Meta[key] = value
}

// EditorState is a read snapshot of the editor: its document, selection
// and the plugin-state value the sync core reads/writes under its
// metadata key (spec §4.3, §6).
type EditorState interface {
	Doc() Doc
	Selection() Selection
}

// View is a non-owning handle to the live editor surface (spec §9:
// "the core borrows the editor view for the lifetime of the loop"). Gone
// reports true once the editor has been torn down, at which point the
// sync loop must stop touching editor state (spec §4.5 iteration step 1).
type View interface {
	State() EditorState
	Gone() bool
	// Dispatch applies a transaction to the live editor, synchronously,
	// on the editor's own serializing queue (spec §5).
	Dispatch(tr *Transaction)
}
