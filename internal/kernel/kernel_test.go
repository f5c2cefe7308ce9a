package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

func TestTransition_RejectsIllegalMove(t *testing.T) {
	m := NewMachine(3, nil)
	err := m.Transition(kmodel.StateVerifying)
	assert.Error(t, err)
}

func TestTransition_AllowsLegalMove(t *testing.T) {
	m := NewMachine(3, nil)
	require.NoError(t, m.Transition(kmodel.StateValidating))
	assert.Equal(t, kmodel.StateValidating, m.State())
}

func TestRecordFailure_IncrementsCounter(t *testing.T) {
	m := NewMachine(2, nil)
	require.NoError(t, m.Transition(kmodel.StateValidating))
	require.NoError(t, m.Transition(kmodel.StateExecuting))
	m.RecordFailure()
	require.NoError(t, m.Transition(kmodel.StateError))
	assert.Equal(t, 1, m.ConsecutiveErrors())
}

func TestReset_ClearsErrorStateAndCounter(t *testing.T) {
	m := NewMachine(2, nil)
	require.NoError(t, m.Transition(kmodel.StateValidating))
	require.NoError(t, m.Transition(kmodel.StateExecuting))
	m.RecordFailure()
	require.NoError(t, m.Transition(kmodel.StateError))

	require.NoError(t, m.Reset())
	assert.Equal(t, kmodel.StateIdle, m.State())
	assert.Equal(t, 0, m.ConsecutiveErrors())
}

func TestReset_FailsOutsideErrorState(t *testing.T) {
	m := NewMachine(2, nil)
	err := m.Reset()
	assert.Error(t, err)
}

func TestSafeModeController_EntersAfterThreshold(t *testing.T) {
	m := NewMachine(2, nil)
	c := NewSafeModeController(m, SafeModeConfig{})

	require.NoError(t, m.Transition(kmodel.StateValidating))
	require.NoError(t, m.Transition(kmodel.StateExecuting))
	m.RecordFailure()
	m.RecordFailure()

	entered, err := c.MaybeEnter()
	require.NoError(t, err)
	assert.True(t, entered)
	assert.Equal(t, kmodel.StateSafeMode, m.State())
}

func TestSafeModeController_ExitRequiresStricterFloor(t *testing.T) {
	m := NewMachine(1, nil)
	require.NoError(t, m.Transition(kmodel.StateValidating))
	require.NoError(t, m.Transition(kmodel.StateExecuting))
	m.RecordFailure()
	c := NewSafeModeController(m, SafeModeConfig{ExitTrustFloor: 0.5})
	_, err := c.MaybeEnter()
	require.NoError(t, err)

	govFloor := 0.8
	result, err := c.RequestExit(kmodel.SourceUser, 0.6, &govFloor)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	result, err = c.RequestExit(kmodel.SourceUser, 0.9, &govFloor)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, kmodel.StateIdle, m.State())
}

func TestSafeModeController_ExitNoOpWhenNotInSafeMode(t *testing.T) {
	m := NewMachine(3, nil)
	c := NewSafeModeController(m, SafeModeConfig{})
	result, err := c.RequestExit(kmodel.SourceUser, 1.0, nil)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestSafeModeController_ExitDeniedForDisallowedSource(t *testing.T) {
	m := NewMachine(1, nil)
	require.NoError(t, m.Transition(kmodel.StateValidating))
	require.NoError(t, m.Transition(kmodel.StateExecuting))
	m.RecordFailure()
	c := NewSafeModeController(m, SafeModeConfig{ExitTrustFloor: 0.5})
	_, err := c.MaybeEnter()
	require.NoError(t, err)

	result, err := c.RequestExit(kmodel.SourceLLM, 1.0, nil)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, kmodel.StateSafeMode, m.State())
}
