package sync

import (
	"github.com/syncot-labs/otcore/editor"
	"github.com/syncot-labs/otcore/pluginstate"
	"github.com/syncot-labs/otcore/rebaseable"
)

// MetaKey is the stable metadata key a transaction carries an explicit
// plugin-state replacement under (spec §6 "Plugin-state metadata key").
const MetaKey = "otcore.syncPluginState"

// Plugin is the editor-side half of the sync core: the state machine
// that accumulates pending steps on every transaction, independent of
// when or whether the Loop gets a chance to submit them.
type Plugin struct {
	cfg Config
}

// NewPlugin validates cfg and returns a Plugin. Validation errors are
// Asserts (spec §7: "thrown synchronously from plugin construction").
func NewPlugin(cfg Config) (*Plugin, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Plugin{cfg: cfg}, nil
}

// Init returns the plugin state a freshly constructed editor state
// starts with (spec §4.3 init()).
func (p *Plugin) Init() pluginstate.State {
	return pluginstate.Init()
}

// Apply computes the next plugin state for a transaction (spec §4.3
// apply(transaction, prevState)).
func (p *Plugin) Apply(tr *editor.Transaction, prev pluginstate.State) pluginstate.State {
	if v, ok := tr.GetMeta(MetaKey); ok {
		if replacement, ok := v.(pluginstate.State); ok {
			return replacement
		}
	}
	if !tr.DocChanged {
		return prev
	}
	steps := rebaseable.FromTransaction(tr)
	return prev.WithAppendedSteps(steps)
}

// Editable reports whether the editor should accept local edits (spec
// §4.3 editable(state)).
func (p *Plugin) Editable(state pluginstate.State) bool {
	return state.Editable()
}
