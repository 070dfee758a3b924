package rebase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncot-labs/otcore/editor"
	"github.com/syncot-labs/otcore/editor/textdoc"
	"github.com/syncot-labs/otcore/rebaseable"
)

func TestRebaseNoForeignStepsRoundTripsLocal(t *testing.T) {
	pre := textdoc.New("hi")
	current := textdoc.New("hiA")
	local := []rebaseable.Rebaseable{
		rebaseable.New(&textdoc.InsertStep{Pos: 2, Content: "A"}, pre),
	}

	out, tr := Rebase(current, local, nil)

	require.Len(t, out, 1)
	assert.Equal(t, &textdoc.InsertStep{Pos: 2, Content: "A"}, out[0].Step)
	assert.Equal(t, "hiA", tr.Doc.(*textdoc.Doc).Text)
}

func TestRebaseAppliesForeignPrefixAndKeepsLocalSuffix(t *testing.T) {
	pre := textdoc.New("hello world")
	current := textdoc.New("hello world!")
	local := []rebaseable.Rebaseable{
		rebaseable.New(&textdoc.InsertStep{Pos: 11, Content: "!"}, pre),
	}
	foreign := []editor.Step{&textdoc.InsertStep{Pos: 0, Content: "Hi "}}

	out, tr := Rebase(current, local, foreign)

	require.Len(t, out, 1)
	assert.Equal(t, &textdoc.InsertStep{Pos: 14, Content: "!"}, out[0].Step)
	assert.Equal(t, "Hi hello world!", tr.Doc.(*textdoc.Doc).Text)
}

func TestRebaseDuplicateDeleteBecomesNoOp(t *testing.T) {
	pre := textdoc.New("hello world")
	current := textdoc.New("hello ")
	local := []rebaseable.Rebaseable{
		rebaseable.New(&textdoc.DeleteStep{From: 6, To: 11}, pre),
	}
	foreign := []editor.Step{&textdoc.DeleteStep{From: 6, To: 11}}

	_, tr := Rebase(current, local, foreign)

	assert.Equal(t, "hello ", tr.Doc.(*textdoc.Doc).Text)
}

func TestRebaseConcurrentInsertsAtSamePositionPutForeignFirst(t *testing.T) {
	pre := textdoc.New("hi")
	current := textdoc.New("hiA")
	local := []rebaseable.Rebaseable{
		rebaseable.New(&textdoc.InsertStep{Pos: 2, Content: "A"}, pre),
	}
	foreign := []editor.Step{&textdoc.InsertStep{Pos: 2, Content: "X"}}

	out, tr := Rebase(current, local, foreign)

	require.Len(t, out, 1)
	assert.Equal(t, &textdoc.InsertStep{Pos: 3, Content: "A"}, out[0].Step)
	assert.Equal(t, "hiXA", tr.Doc.(*textdoc.Doc).Text)
}

func TestRebaseLocalInsertInsideForeignDeleteIsDiscarded(t *testing.T) {
	pre := textdoc.New("hello world")
	current := textdoc.New("hello wo!rld")
	local := []rebaseable.Rebaseable{
		rebaseable.New(&textdoc.InsertStep{Pos: 8, Content: "!"}, pre),
	}
	foreign := []editor.Step{&textdoc.DeleteStep{From: 6, To: 11}}

	out, tr := Rebase(current, local, foreign)

	assert.Empty(t, out)
	assert.Equal(t, "hello ", tr.Doc.(*textdoc.Doc).Text)
}
