package kernel

import (
	"fmt"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// SafeModeConfig configures the Safe-Mode Controller.
type SafeModeConfig struct {
	// ExitTrustFloor is the controller's own minimum trust required to
	// exit safe mode.
	ExitTrustFloor float64
}

// SafeModeController restricts execution to read-only tools once the
// Machine's consecutive-error count trips its threshold, and gates exit on
// trust recovery (spec §4.12). The effective exit floor resolves the
// specification's Open Question on interaction with governance trust
// floors: exit requires meeting or exceeding whichever of the
// controller's own floor and the active governance policy's floor for the
// triggering risk class is stricter (larger).
type SafeModeController struct {
	machine *Machine
	cfg     SafeModeConfig
}

// DefaultExitTrustFloor is the exit floor applied when no config value is
// supplied, matching config.SafeModeConfig's documented default.
const DefaultExitTrustFloor = 0.8

// NewSafeModeController returns a controller wrapping machine.
func NewSafeModeController(machine *Machine, cfg SafeModeConfig) *SafeModeController {
	if cfg.ExitTrustFloor <= 0 {
		cfg.ExitTrustFloor = DefaultExitTrustFloor
	}
	return &SafeModeController{machine: machine, cfg: cfg}
}

// MaybeEnter transitions the machine into StateSafeMode if the
// consecutive-error threshold has been reached. It is a no-op (returns
// false, nil) when the threshold has not been reached.
func (c *SafeModeController) MaybeEnter() (bool, error) {
	if !c.machine.ShouldTriggerSafeMode() {
		return false, nil
	}
	if err := c.machine.Transition(kmodel.StateSafeMode); err != nil {
		return false, fmt.Errorf("kernel: enter safe mode: %w", err)
	}
	return true, nil
}

// ExitResult is the outcome of an exit request.
type ExitResult struct {
	Allowed bool
	Reason  string
}

// RequestExit evaluates whether source is permitted to request an exit at
// all (only kmodel.SourceUser and kmodel.SourceSystem may) and, if so,
// whether callerTrust clears the effective exit floor (the stricter of the
// controller's own floor and governanceTrustFloor, when the latter is
// non-nil), transitioning the machine back to StateIdle when both hold.
func (c *SafeModeController) RequestExit(source kmodel.SourceKind, callerTrust float64, governanceTrustFloor *float64) (ExitResult, error) {
	if c.machine.State() != kmodel.StateSafeMode {
		return ExitResult{Allowed: false, Reason: "kernel is not in safe mode"}, nil
	}

	if source != kmodel.SourceUser && source != kmodel.SourceSystem {
		return ExitResult{
			Allowed: false,
			Reason:  fmt.Sprintf("source %q is not permitted to exit safe mode", source),
		}, nil
	}

	floor := c.cfg.ExitTrustFloor
	if governanceTrustFloor != nil && *governanceTrustFloor > floor {
		floor = *governanceTrustFloor
	}

	if callerTrust < floor {
		return ExitResult{
			Allowed: false,
			Reason:  fmt.Sprintf("caller trust %.2f is below the required exit floor %.2f", callerTrust, floor),
		}, nil
	}

	if err := c.machine.Transition(kmodel.StateIdle); err != nil {
		return ExitResult{}, fmt.Errorf("kernel: exit safe mode: %w", err)
	}
	c.machine.RecordSuccess()
	return ExitResult{Allowed: true, Reason: "trust floor satisfied"}, nil
}

// RestrictsToReadOnly reports whether the machine is currently in safe
// mode, in which case only kmodel.RiskReadOnly tools may execute.
func (c *SafeModeController) RestrictsToReadOnly() bool {
	return c.machine.State() == kmodel.StateSafeMode
}
