package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

func TestRun_NoChecksPassesByDefault(t *testing.T) {
	v := New()
	result := v.Run(context.Background(), ExecutionContext{ToolName: "no_checks"})
	assert.Equal(t, kmodel.VerificationPassed, result.Status)
}

func TestRun_CriticalFailureFailsOverall(t *testing.T) {
	v := New()
	v.Register("write_file", "file_exists", "file exists after write", kmodel.SeverityCritical, 0,
		func(ctx context.Context, ec ExecutionContext) error { return errors.New("file missing") })

	result := v.Run(context.Background(), ExecutionContext{ToolName: "write_file"})
	assert.Equal(t, kmodel.VerificationFailed, result.Status)
	assert.True(t, result.HasCriticalFailure)
}

func TestRun_NonCriticalFailureIsPartial(t *testing.T) {
	v := New()
	v.Register("write_file", "byte_count", "byte count matches", kmodel.SeverityWarning, 0,
		func(ctx context.Context, ec ExecutionContext) error { return errors.New("size mismatch") })

	result := v.Run(context.Background(), ExecutionContext{ToolName: "write_file"})
	assert.Equal(t, kmodel.VerificationPartial, result.Status)
	assert.False(t, result.HasCriticalFailure)
}

func TestRun_PanicBecomesCheckError(t *testing.T) {
	v := New()
	v.Register("risky", "panics", "check that panics", kmodel.SeverityCritical, 0,
		func(ctx context.Context, ec ExecutionContext) error { panic("boom") })

	result := v.Run(context.Background(), ExecutionContext{ToolName: "risky"})
	assert.Equal(t, 1, result.FailureTaxonomy.CheckError)
}

func TestRun_TimeoutClassifiesAsTimeout(t *testing.T) {
	v := New()
	v.Register("slow", "slow_check", "takes too long", kmodel.SeverityCritical, 10*time.Millisecond,
		func(ctx context.Context, ec ExecutionContext) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})

	result := v.Run(context.Background(), ExecutionContext{ToolName: "slow"})
	assert.Equal(t, 1, result.FailureTaxonomy.Timeout)
}
