package schema

import "github.com/syncot-labs/otcore/otcoreerr"

// MarkRef is one mark instance applied to a text node: a type name plus
// its attributes.
type MarkRef struct {
	Name  string
	Attrs map[string]any
}

// Tree is the node-tree representation schema migration operates over
// (spec §4.4). This is distinct from editor.Doc: the editor's document
// representation is opaque to the sync core, but migration runs once,
// during state initialization, before any steps exist, against a snapshot
// the content client hands back as a tree the core can actually walk.
type Tree struct {
	Type     string
	Attrs    map[string]any
	Text     string // non-empty only for text leaves
	Marks    []MarkRef
	Children []*Tree
}

// isPlaceholder reports whether typ is one of the three reserved node
// placeholder types, meaning a previous migration already wrapped it.
func isPlaceholder(typ string) bool {
	switch typ {
	case PlaceholderBlockBranch, PlaceholderInlineBranch, PlaceholderInlineLeaf:
		return true
	}
	return false
}

// sameAttrNames reports whether two node/mark specs declare the same
// attribute names, irrespective of default values (spec §4.4:
// "compatible content expression and attributes" -- compatibility is
// about shape, not about default payload).
func sameAttrNames(a, b []AttrSpec) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s.Name] = true
	}
	for _, s := range b {
		if !seen[s.Name] {
			return false
		}
	}
	return true
}

// nodeCompatible reports whether typ names a node present in both old
// and local with the same group, content expression and attribute
// names (spec §4.4: a node type "survives" migration only if both
// schemas agree on its shape).
func nodeCompatible(typ string, old, local Data) bool {
	o, ok := old.NodeByName(typ)
	if !ok {
		return false
	}
	l, ok := local.NodeByName(typ)
	if !ok {
		return false
	}
	return o.Group == l.Group && o.Content == l.Content && sameAttrNames(o.Attrs, l.Attrs)
}

// markCompatible reports whether name is a mark type present in both
// schemas with matching attributes.
func markCompatible(name string, old, local Data) bool {
	o, ok := old.MarkByName(name)
	if !ok {
		return false
	}
	l, ok := local.MarkByName(name)
	if !ok {
		return false
	}
	return sameAttrNames(o.Attrs, l.Attrs)
}

// placeholderKindFor chooses which of the three node placeholder types
// wraps n, based on whether it is a block- or inline-group node and
// whether it has children (spec §4.4 names blockBranch/inlineBranch/
// inlineLeaf as the three node-shaped placeholders).
func placeholderKindFor(n *Tree, old Data) string {
	group := ""
	if spec, ok := old.NodeByName(n.Type); ok {
		group = spec.Group
	}
	switch {
	case group == "block":
		return PlaceholderBlockBranch
	case len(n.Children) > 0:
		return PlaceholderInlineBranch
	default:
		return PlaceholderInlineLeaf
	}
}

// Migrate rewrites old, a document tree authored under oldSchema, into
// the shape local can represent (spec §4.4): every node type absent
// from local, or present with an incompatible shape, is wrapped in the
// matching placeholder type carrying its original type name and
// attributes; every mark the local schema cannot represent is replaced
// by a PlaceholderMark ref carrying the same. The result is then
// validated against local's content expressions; if it does not satisfy
// them, Migrate returns a SchemaConflictError of kind MigrationFailed.
func Migrate(old *Tree, oldSchema, local Descriptor) (*Tree, error) {
	migrated, err := migrateNode(old, oldSchema.Data, local.Data, true)
	if err != nil {
		return nil, err
	}
	if err := validate(migrated, local.Data, true); err != nil {
		return nil, err
	}
	return migrated, nil
}

func migrateNode(n *Tree, old, local Data, isTop bool) (*Tree, error) {
	children := make([]*Tree, len(n.Children))
	for i, c := range n.Children {
		mc, err := migrateNode(c, old, local, false)
		if err != nil {
			return nil, err
		}
		children[i] = mc
	}
	marks := migrateMarks(n.Marks, old, local)

	typ := n.Type
	attrs := n.Attrs
	if isTop {
		// The top node's type is fixed by the schema, never wrapped.
		if typ != local.TopNode {
			typ = local.TopNode
		}
	} else if isPlaceholder(n.Type) {
		// A node already wrapped by a previous migration passes
		// through unchanged; re-wrapping it would lose the original
		// type it carries in its attrs.
	} else if !nodeCompatible(n.Type, old, local) {
		kind := placeholderKindFor(n, old)
		attrs = map[string]any{"originalType": n.Type, "originalAttrs": n.Attrs}
		typ = kind
	}

	return &Tree{Type: typ, Attrs: attrs, Text: n.Text, Marks: marks, Children: children}, nil
}

func migrateMarks(marks []MarkRef, old, local Data) []MarkRef {
	out := make([]MarkRef, 0, len(marks))
	for _, m := range marks {
		if markCompatible(m.Name, old, local) {
			out = append(out, m)
			continue
		}
		out = append(out, MarkRef{
			Name:  PlaceholderMark,
			Attrs: map[string]any{"originalName": m.Name, "originalAttrs": m.Attrs},
		})
	}
	return out
}

// validate checks n and its descendants against local's content
// expressions, reporting a SchemaConflictError if a node's children
// violate its declared content quantifier (spec §4.4: migration must
// still fail loudly if the local schema itself is unsatisfiable, e.g.
// a required child group left empty).
func validate(n *Tree, local Data, isTop bool) error {
	spec, ok := local.NodeByName(n.Type)
	if !ok {
		return otcoreerr.SchemaConflictError{Kind: otcoreerr.MigrationFailed}
	}
	if spec.Content != "" {
		group := spec.Content.Group()
		count := 0
		for _, c := range n.Children {
			if childSpec, ok := local.NodeByName(c.Type); ok && childSpec.Group == group {
				count++
			}
		}
		if !spec.Content.Allows(count) {
			return otcoreerr.SchemaConflictError{Kind: otcoreerr.MigrationFailed}
		}
	}
	for _, c := range n.Children {
		if err := validate(c, local, false); err != nil {
			return err
		}
	}
	return nil
}
