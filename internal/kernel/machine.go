// Package kernel implements the kernel State Machine and the Safe-Mode
// Controller (spec §4.7, §4.12): a single-mutex guarded lifecycle state
// with consecutive-error tracking, and the degraded mode that restricts
// execution to read-only tools until trust recovers.
package kernel

import (
	"fmt"
	"sync"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// Machine is the kernel's global lifecycle state, guarded by a single
// mutex — only one transition is ever in flight at a time, matching spec
// §5's single-writer concurrency model for kernel state.
type Machine struct {
	mu                sync.Mutex
	state             kmodel.State
	consecutiveErrors int
	errorThreshold    int
	onTransition      func(from, to kmodel.State)
}

// NewMachine returns a Machine starting in StateIdle. errorThreshold
// configures how many consecutive failures the Safe-Mode Controller waits
// for before tripping (spec §4.12); onTransition, if non-nil, is invoked
// synchronously after every transition (used to emit EventStateTransition).
func NewMachine(errorThreshold int, onTransition func(from, to kmodel.State)) *Machine {
	if errorThreshold <= 0 {
		errorThreshold = 3
	}
	return &Machine{
		state:          kmodel.StateIdle,
		errorThreshold: errorThreshold,
		onTransition:   onTransition,
	}
}

// State returns the current state.
func (m *Machine) State() kmodel.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves the machine to `to` if legal per kmodel.CanTransition,
// returning an error otherwise. It never touches the consecutive-error
// counter itself — callers record outcomes explicitly via RecordFailure /
// RecordSuccess, since a pipeline step may route straight to StateSafeMode
// instead of StateError once the Safe-Mode Controller trips, and the
// counter must keep counting either way.
func (m *Machine) Transition(to kmodel.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if !kmodel.CanTransition(from, to) {
		return fmt.Errorf("kernel: illegal transition %s -> %s", from, to)
	}
	m.state = to
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return nil
}

// RecordFailure increments the consecutive-error counter. Call this when a
// pipeline step fails, before deciding whether to transition to
// StateError or StateSafeMode.
func (m *Machine) RecordFailure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrors++
	return m.consecutiveErrors
}

// RecordSuccess resets the consecutive-error counter to zero.
func (m *Machine) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consecutiveErrors = 0
}

// ConsecutiveErrors returns the current run of consecutive failures, the
// signal the Safe-Mode Controller watches.
func (m *Machine) ConsecutiveErrors() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveErrors
}

// ShouldTriggerSafeMode reports whether the consecutive-error count has
// reached the configured threshold.
func (m *Machine) ShouldTriggerSafeMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveErrors >= m.errorThreshold
}

// Reset clears StateError back to StateIdle and zeroes the consecutive
// error counter. This is the explicit recovery operation the state table
// itself deliberately excludes — StateError is terminal to every ordinary
// transition so that leaving it is always a conscious orchestrator action,
// never an implicit side effect of a pipeline step. Reset returns an error
// when the machine is not currently in StateError.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != kmodel.StateError {
		return fmt.Errorf("kernel: Reset is only valid from %s, current state is %s", kmodel.StateError, m.state)
	}
	from := m.state
	m.state = kmodel.StateIdle
	m.consecutiveErrors = 0
	if m.onTransition != nil {
		m.onTransition(from, m.state)
	}
	return nil
}
