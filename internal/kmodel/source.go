package kmodel

import "strings"

// SourceKind is the closed set of origins a proposed tool call can carry.
type SourceKind string

const (
	SourceUser     SourceKind = "user"
	SourceSystem   SourceKind = "system"
	SourceLLM      SourceKind = "llm"
	SourcePlugin   SourceKind = "plugin"
	SourceExternal SourceKind = "external"
)

// Source is the tagged origin of a proposed tool call. When Kind is
// SourcePlugin, Name identifies the specific plugin; for the other kinds
// Name is typically empty.
type Source struct {
	Kind SourceKind `json:"kind"`
	Name string     `json:"name,omitempty"`
}

// Key returns a stable string identifying this source for trust-scorer
// and governance lookups: "plugin:git-ops" for a named plugin, otherwise
// just the kind ("user", "system", ...).
func (s Source) Key() string {
	if s.Kind == SourcePlugin && s.Name != "" {
		return string(SourcePlugin) + ":" + s.Name
	}
	return string(s.Kind)
}

func (s Source) String() string { return s.Key() }

// Valid reports whether the source kind is one of the declared values.
func (s Source) Valid() bool {
	switch s.Kind {
	case SourceUser, SourceSystem, SourceLLM, SourcePlugin, SourceExternal:
		return true
	default:
		return false
	}
}

// ParseSource parses a "kind" or "kind:name" string into a Source.
func ParseSource(raw string) Source {
	kind, name, found := strings.Cut(raw, ":")
	if !found {
		return Source{Kind: SourceKind(kind)}
	}
	return Source{Kind: SourceKind(kind), Name: name}
}
