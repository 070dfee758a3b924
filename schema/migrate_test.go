package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localDescriptor() Descriptor {
	return New("doc", Data{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: "block+"},
			{Name: "paragraph", Group: "block", Content: "text*"},
			{Name: "text", Group: "inline"},
			{Name: PlaceholderBlockBranch, Group: "block"},
			{Name: PlaceholderInlineBranch, Group: "inline"},
			{Name: PlaceholderInlineLeaf, Group: "inline"},
		},
		Marks: []MarkSpec{
			{Name: "strong"},
			{Name: PlaceholderMark},
		},
	})
}

func oldDescriptorWithFancyBlock() Descriptor {
	return New("doc", Data{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: "block+"},
			{Name: "fancyBlock", Group: "block", Content: "text*"},
			{Name: "text", Group: "inline"},
		},
		Marks: []MarkSpec{
			{Name: "strike"},
		},
	})
}

func TestMigrateWrapsUnknownNodeInBlockBranch(t *testing.T) {
	old := oldDescriptorWithFancyBlock()
	local := localDescriptor()

	tree := &Tree{
		Type: "doc",
		Children: []*Tree{
			{
				Type:  "fancyBlock",
				Attrs: map[string]any{"color": "red"},
				Children: []*Tree{
					{Type: "text", Text: "hi"},
				},
			},
		},
	}

	migrated, err := Migrate(tree, old, local)
	require.NoError(t, err)

	require.Len(t, migrated.Children, 1)
	wrapped := migrated.Children[0]
	assert.Equal(t, PlaceholderBlockBranch, wrapped.Type)
	assert.Equal(t, "fancyBlock", wrapped.Attrs["originalType"])
	assert.Equal(t, map[string]any{"color": "red"}, wrapped.Attrs["originalAttrs"])

	require.Len(t, wrapped.Children, 1)
	assert.Equal(t, "text", wrapped.Children[0].Type, "compatible descendant passes through unchanged")
}

func TestMigrateCompatibleNodePassesThroughUnwrapped(t *testing.T) {
	old := New("doc", Data{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: "block+"},
			{Name: "paragraph", Group: "block", Content: "text*"},
			{Name: "text", Group: "inline"},
		},
	})
	local := localDescriptor()

	tree := &Tree{
		Type: "doc",
		Children: []*Tree{
			{Type: "paragraph", Children: []*Tree{{Type: "text", Text: "hi"}}},
		},
	}

	migrated, err := Migrate(tree, old, local)
	require.NoError(t, err)
	assert.Equal(t, "paragraph", migrated.Children[0].Type)
}

func TestMigrateWrapsUnknownMark(t *testing.T) {
	old := oldDescriptorWithFancyBlock()
	local := localDescriptor()

	tree := &Tree{
		Type: "doc",
		Children: []*Tree{
			{
				Type: "fancyBlock",
				Children: []*Tree{
					{Type: "text", Text: "hi", Marks: []MarkRef{{Name: "strike"}}},
				},
			},
		},
	}

	migrated, err := Migrate(tree, old, local)
	require.NoError(t, err)

	leaf := migrated.Children[0].Children[0]
	require.Len(t, leaf.Marks, 1)
	assert.Equal(t, PlaceholderMark, leaf.Marks[0].Name)
	assert.Equal(t, "strike", leaf.Marks[0].Attrs["originalName"])
}

func TestMigrateFailsWhenRequiredContentGroupIsEmpty(t *testing.T) {
	old := New("doc", Data{
		TopNode: "doc",
		Nodes: []NodeSpec{
			{Name: "doc", Content: "block+"},
		},
	})
	local := localDescriptor()

	tree := &Tree{Type: "doc"}

	_, err := Migrate(tree, old, local)
	require.Error(t, err)
}
