// Package kmodel holds the data types shared across every kernel subsystem:
// risk classes, event types, error kinds, and the other closed sum types the
// pipeline, registry, and governance engine all switch on exhaustively.
package kmodel

// RiskClass governs approval and compensation policy for a tool contract.
type RiskClass string

const (
	RiskReadOnly     RiskClass = "read-only"
	RiskReversible   RiskClass = "reversible"
	RiskIrreversible RiskClass = "irreversible"
)

// Valid reports whether r is one of the three declared risk classes.
func (r RiskClass) Valid() bool {
	switch r {
	case RiskReadOnly, RiskReversible, RiskIrreversible:
		return true
	default:
		return false
	}
}

// ReadOnly reports whether the risk class permits execution while the
// kernel is in safe mode.
func (r RiskClass) ReadOnly() bool {
	return r == RiskReadOnly
}

// HandlerType classifies a custom tool descriptor's execution surface.
// It drives the derived risk class and approval requirement for
// user-synthesized tool contracts (spec §4.1).
type HandlerType string

const (
	HandlerHTTP  HandlerType = "http"
	HandlerShell HandlerType = "shell"
	HandlerCode  HandlerType = "code"
)

// DerivedRisk returns the risk class a custom descriptor's handler type
// implies, and whether approval is required by default.
func (h HandlerType) DerivedRisk() (RiskClass, bool) {
	switch h {
	case HandlerShell:
		return RiskIrreversible, true
	case HandlerHTTP:
		return RiskReversible, false
	case HandlerCode:
		return RiskReversible, false
	default:
		return RiskReversible, true
	}
}

// Permission is a capability string a tool contract declares it needs,
// e.g. "fs:read:workspace", "process:shell", "net:outbound:https",
// "ai:inference".
type Permission string

// SideEffect describes one observable side effect a tool's execution has
// on external state.
type SideEffect struct {
	Description string `json:"description" yaml:"description"`
	Resource    string `json:"resource" yaml:"resource"`
	Reversible  bool   `json:"reversible" yaml:"reversible"`
}
