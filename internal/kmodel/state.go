package kmodel

// State is one of the kernel's global lifecycle states. At most one state
// is current per kernel instance.
type State string

const (
	StateIdle          State = "idle"
	StateValidating    State = "validating"
	StateAwaitApproval State = "awaiting_approval"
	StateExecuting     State = "executing"
	StateVerifying     State = "verifying"
	StateCompensating  State = "compensating"
	StateSafeMode      State = "safe_mode"
	StateError         State = "error"
)

// transitions is the exhaustive legal-transition table from spec §4.7. It
// is the single source of truth; kernel.Machine.Transition consults it
// directly rather than re-deriving it from a switch, so adding a state here
// is the only place a new transition needs registering.
var transitions = map[State]map[State]bool{
	StateIdle: {
		StateValidating: true,
		StateSafeMode:   true,
	},
	StateValidating: {
		StateAwaitApproval: true,
		StateExecuting:     true,
		StateError:         true,
		StateIdle:          true,
	},
	StateAwaitApproval: {
		StateExecuting: true,
		StateIdle:      true,
		StateSafeMode:  true,
	},
	StateExecuting: {
		StateVerifying:    true,
		StateCompensating: true,
		StateError:        true,
		StateSafeMode:     true,
	},
	StateVerifying: {
		StateIdle:         true,
		StateCompensating: true,
		StateError:        true,
	},
	StateCompensating: {
		StateIdle:     true,
		StateError:    true,
		StateSafeMode: true,
	},
	StateSafeMode: {
		StateIdle: true,
	},
	StateError: {
		// error is terminal until an explicit Reset(), which is not a
		// transition in this table but a separate operation.
	},
}

// CanTransition reports whether moving from `from` to `to` is legal per the
// table in spec §4.7.
func CanTransition(from, to State) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Valid reports whether s is one of the eight declared kernel states.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}
