// Package schema implements the schema adapter of spec §4.4: a
// canonical, content-addressed descriptor for the editor's schema, and
// migration of a document tree authored under a foreign schema into the
// local one using placeholder node/mark types.
//
// Grounded on luvjson/crdt/node_factory.go (dispatch on a node-type
// string to build the right concrete node) and luvjson/crdtedit's one-
// editor-per-node-shape pattern (type_editors.go), generalized from
// "build a CRDT node of this type" to "decide whether this node type
// survives migration or needs a placeholder."
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Reserved placeholder type names (spec §4.4).
const (
	PlaceholderBlockBranch  = "blockBranch"
	PlaceholderInlineBranch = "inlineBranch"
	PlaceholderInlineLeaf   = "inlineLeaf"
	PlaceholderMark         = "mark"
)

// ContentExpr is a minimal child-content expression: a group name
// followed by an optional repetition quantifier (+, *, ?), or a bare
// group name meaning "exactly one" (spec §3: "child content
// expressions"). This covers every content expression spec §8 scenario
// 4 names (`block+`, `block*`).
type ContentExpr string

func (c ContentExpr) parse() (group string, quantifier byte) {
	s := string(c)
	if s == "" {
		return "", 0
	}
	last := s[len(s)-1]
	if last == '+' || last == '*' || last == '?' {
		return s[:len(s)-1], last
	}
	return s, 0
}

// Allows reports whether n children of the expression's group satisfy
// its quantifier.
func (c ContentExpr) Allows(n int) bool {
	if c == "" {
		return n == 0
	}
	_, q := c.parse()
	switch q {
	case '+':
		return n >= 1
	case '*':
		return true
	case '?':
		return n <= 1
	default:
		return n == 1
	}
}

// Group returns the child group name this expression constrains.
func (c ContentExpr) Group() string {
	g, _ := c.parse()
	return g
}

// AttrSpec describes one attribute a node or mark type carries.
type AttrSpec struct {
	Name    string `json:"name"`
	Default any    `json:"default,omitempty"`
}

// NodeSpec describes one node type allowed by a schema.
type NodeSpec struct {
	Name    string     `json:"name"`
	Group   string     `json:"group,omitempty"`   // the content group this node belongs to ("block", "inline", ...)
	Content ContentExpr `json:"content,omitempty"` // expression constraining this node's children
	Attrs   []AttrSpec  `json:"attrs,omitempty"`
}

// MarkSpec describes one mark type allowed by a schema.
type MarkSpec struct {
	Name  string     `json:"name"`
	Attrs []AttrSpec `json:"attrs,omitempty"`
}

// Data is the canonical description of a schema's allowed shape (spec
// §3 Schema descriptor: "allowed node types, mark types, top-node type,
// child content expressions, and attributes").
type Data struct {
	TopNode string     `json:"topNode"`
	Nodes   []NodeSpec `json:"nodes"`
	Marks   []MarkSpec `json:"marks"`
}

// canonical returns a copy of d with Nodes and Marks sorted by name, so
// two schemas describing the same shape always encode identically (spec
// §4.4: "Equal descriptors ⇒ equal hash").
func (d Data) canonical() Data {
	nodes := append([]NodeSpec(nil), d.Nodes...)
	marks := append([]MarkSpec(nil), d.Marks...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	sort.Slice(marks, func(i, j int) bool { return marks[i].Name < marks[j].Name })
	for i := range nodes {
		attrs := append([]AttrSpec(nil), nodes[i].Attrs...)
		sort.Slice(attrs, func(a, b int) bool { return attrs[a].Name < attrs[b].Name })
		nodes[i].Attrs = attrs
	}
	for i := range marks {
		attrs := append([]AttrSpec(nil), marks[i].Attrs...)
		sort.Slice(attrs, func(a, b int) bool { return attrs[a].Name < attrs[b].Name })
		marks[i].Attrs = attrs
	}
	return Data{TopNode: d.TopNode, Nodes: nodes, Marks: marks}
}

// NodeByName returns the node spec named name, if any.
func (d Data) NodeByName(name string) (NodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// MarkByName returns the mark spec named name, if any.
func (d Data) MarkByName(name string) (MarkSpec, bool) {
	for _, m := range d.Marks {
		if m.Name == name {
			return m, true
		}
	}
	return MarkSpec{}, false
}

// Descriptor is the schema as negotiated with the content server (spec
// §3): a type tag, the canonical data, and its content-addressed hash.
type Descriptor struct {
	Type string `json:"type"`
	Data Data   `json:"data"`
	Hash string `json:"hash"`
}

// hashPayload is the exact byte sequence the hash is computed over: type
// plus the canonically-sorted data (spec §4.4: "a canonical serialization
// of (type, sorted node specs, sorted mark specs, top-node name)").
type hashPayload struct {
	Type string `json:"type"`
	Data Data   `json:"data"`
}

// New builds a Descriptor from docType and data, computing its hash.
// Equal (docType, data) pairs always produce an equal Hash; this is the
// sole identity the content server uses to recognize a schema (spec
// §3, §4.4).
func New(docType string, data Data) Descriptor {
	canon := data.canonical()
	return Descriptor{Type: docType, Data: canon, Hash: hash(docType, canon)}
}

func hash(docType string, canon Data) string {
	// encoding/json with struct field order fixed by declaration and
	// slices pre-sorted gives a deterministic byte sequence; no
	// third-party canonical-JSON encoder is warranted here, since the
	// sorting (the only non-default-Marshal behavior needed) is already
	// done above and the teacher itself relies on stdlib encoding/json
	// throughout for JSON CRDT wire shapes.
	payload, err := json.Marshal(hashPayload{Type: docType, Data: canon})
	if err != nil {
		// Data is always JSON-encodable (strings, slices, structs);
		// a Marshal failure here would mean a programming error in
		// this package, not a runtime condition callers can recover
		// from.
		panic(fmt.Sprintf("schema: failed to encode descriptor: %v", err))
	}
	sum := xxhash.Sum64(payload)
	return fmt.Sprintf("%016x", sum)
}

// Equal reports whether two descriptors have the same hash.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.Hash == other.Hash
}
