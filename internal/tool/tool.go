// Package tool defines the user-selectable tools and derives which of them
// are enabled for a given capability set.
package tool

import "github.com/maauso/vidsuite/internal/capability"

// ID identifies a tool.
type ID string

// Known tool identifiers.
const (
	Compress    ID = "compress"
	FrameViewer ID = "frame-viewer"
	Trim        ID = "trim"
	Filter      ID = "filter"
)

// Tool is a named entry shown in the tool sidebar.
type Tool struct {
	ID    ID
	Label string
	// Requires is the capability the tool depends on. Empty means the tool
	// is always available.
	Requires capability.Capability
}

// Catalog lists every tool in registry order. EnabledTools filters it.
var Catalog = []Tool{
	{ID: Compress, Label: "Compress Video", Requires: capability.Compression},
	{ID: FrameViewer, Label: "Frame-by-Frame Viewer"},
	{ID: Trim, Label: "Trim Video", Requires: capability.ClipEditing},
	{ID: Filter, Label: "Add Filter", Requires: capability.ClipEditing},
}

// Available reports whether t can run with the given capabilities.
func (t Tool) Available(caps capability.Set) bool {
	return t.Requires == "" || caps.Has(t.Requires)
}

// EnabledTools returns the tools whose required capability is present,
// in catalog order. The frame viewer needs nothing, so the result is never
// empty.
func EnabledTools(caps capability.Set) []Tool {
	out := make([]Tool, 0, len(Catalog))
	for _, t := range Catalog {
		if t.Available(caps) {
			out = append(out, t)
		}
	}
	return out
}

// Default returns the default selection: the first enabled tool.
func Default(tools []Tool) ID {
	if len(tools) == 0 {
		return FrameViewer
	}
	return tools[0].ID
}

// Lookup finds a catalog entry by id.
func Lookup(id ID) (Tool, bool) {
	for _, t := range Catalog {
		if t.ID == id {
			return t, true
		}
	}
	return Tool{}, false
}

// Contains reports whether id is among tools.
func Contains(tools []Tool, id ID) bool {
	for _, t := range tools {
		if t.ID == id {
			return true
		}
	}
	return false
}
