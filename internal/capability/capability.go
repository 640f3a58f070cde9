// Package capability determines which optional processing features are
// available at startup.
package capability

import (
	"slices"
	"strings"
)

// Capability names an optional processing feature gated on an external tool
// or library being usable.
type Capability string

const (
	// Compression is provided by an ffmpeg build with the libx264 encoder.
	Compression Capability = "compression"
	// ClipEditing is provided by ffmpeg plus ffprobe, which the frame
	// library needs for timeline extraction and re-encoding.
	ClipEditing Capability = "clip-editing"
	// AI is an external generation client configured from an API key.
	AI Capability = "ai"
)

// All lists every known capability in probe order.
var All = []Capability{Compression, ClipEditing, AI}

// Parse converts a capability name to a Capability. It returns false for
// unknown names.
func Parse(name string) (Capability, bool) {
	c := Capability(strings.ToLower(strings.TrimSpace(name)))
	if slices.Contains(All, c) {
		return c, true
	}
	return "", false
}

// Set is an immutable set of capabilities.
// The zero value is the empty set.
type Set struct {
	members map[Capability]struct{}
}

// NewSet builds a Set from the given capabilities.
func NewSet(caps ...Capability) Set {
	m := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		m[c] = struct{}{}
	}
	return Set{members: m}
}

// Has reports whether c is in the set.
func (s Set) Has(c Capability) bool {
	_, ok := s.members[c]
	return ok
}

// List returns the members in probe order.
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s.members))
	for _, c := range All {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of members.
func (s Set) Len() int {
	return len(s.members)
}

// String implements fmt.Stringer.
func (s Set) String() string {
	names := make([]string, 0, len(s.members))
	for _, c := range s.List() {
		names = append(names, string(c))
	}
	return "{" + strings.Join(names, ", ") + "}"
}
