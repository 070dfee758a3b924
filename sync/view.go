package sync

import (
	"github.com/syncot-labs/otcore/editor"
	"github.com/syncot-labs/otcore/pluginstate"
)

// StateWithPlugin extends editor.EditorState with access to the plugin
// state spec §3 says is "attached to each editor state" -- the base
// editor package stays agnostic of any particular plugin, so this
// narrower capability lives here instead.
type StateWithPlugin interface {
	editor.EditorState
	PluginState() pluginstate.State
}

// Reinitializer is implemented by a View that can swap in a wholly new
// editor state, as InitState requires (spec §4.5 InitState: "construct
// a new editor state: same schema and plugins, document initialized
// from the (possibly migrated) snapshot, and plugin state..."). This is
// distinct from View.Dispatch, which applies an incremental transaction
// to the existing state; InitState replaces the state outright.
type Reinitializer interface {
	Reinit(doc editor.Doc, state pluginstate.State)
}
