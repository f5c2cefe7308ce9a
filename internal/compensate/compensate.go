// Package compensate implements the Compensation Registry and the Incident
// Manager (spec §4.5): best-effort rollback functions per tool, and the
// incident records opened when a rollback is missing, errors, or times out.
package compensate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// DefaultCompensationTimeout bounds how long a registered compensation
// function is given to run before it is treated as timed out.
const DefaultCompensationTimeout = 30 * time.Second

// CompensationFunc attempts to undo a tool's side effects. It receives the
// failed call's requestID, its params, and whatever result the handler
// produced, so the compensation has enough information to act.
type CompensationFunc func(ctx context.Context, requestID string, params map[string]any, result any) error

// Registry holds one compensation function per tool name.
type Registry struct {
	mu      sync.RWMutex
	byTool  map[string]CompensationFunc
	timeout map[string]time.Duration
}

// NewRegistry returns an empty compensation Registry.
func NewRegistry() *Registry {
	return &Registry{
		byTool:  make(map[string]CompensationFunc),
		timeout: make(map[string]time.Duration),
	}
}

// Register attaches fn as toolName's compensation. Re-registering replaces
// the previous function, matching the reference registry's last-write-wins
// tool registration semantics.
func (r *Registry) Register(toolName string, timeout time.Duration, fn CompensationFunc) {
	if timeout <= 0 {
		timeout = DefaultCompensationTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTool[toolName] = fn
	r.timeout[toolName] = timeout
}

// Has reports whether toolName has a registered compensation function.
func (r *Registry) Has(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byTool[toolName]
	return ok
}

// Outcome is the result of attempting to compensate one failed execution.
type Outcome struct {
	Attempted bool
	Succeeded bool
	Reason    kmodel.IncidentReason // zero value when Succeeded
	Err       error
}

// Compensate runs toolName's registered compensation function, if any,
// within its configured timeout. When no function is registered, Outcome
// reports Attempted=false and the caller is expected to open a
// no_compensation incident.
func (r *Registry) Compensate(ctx context.Context, toolName, requestID string, params map[string]any, result any) Outcome {
	r.mu.RLock()
	fn, ok := r.byTool[toolName]
	timeout := r.timeout[toolName]
	r.mu.RUnlock()

	if !ok {
		return Outcome{Attempted: false, Reason: kmodel.IncidentNoCompensation}
	}

	compCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("compensation panicked: %v", rec)
			}
		}()
		done <- fn(compCtx, requestID, params, result)
	}()

	select {
	case err := <-done:
		if err != nil {
			return Outcome{Attempted: true, Succeeded: false, Reason: kmodel.IncidentCompensationError, Err: err}
		}
		return Outcome{Attempted: true, Succeeded: true}
	case <-compCtx.Done():
		return Outcome{Attempted: true, Succeeded: false, Reason: kmodel.IncidentCompensationTimeout, Err: compCtx.Err()}
	}
}
