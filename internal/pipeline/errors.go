package pipeline

import (
	"fmt"

	"github.com/open-autonomy/kernel/internal/kmodel"
)

// Error is the pipeline's structured failure type, grounded on the
// reference repo's ToolError/LoopError pattern (internal/agent/errors.go):
// a closed ErrorKind discriminant plus a human-readable message and the
// underlying cause, if any, for %w-based unwrapping.
type Error struct {
	Kind      kmodel.ErrorKind
	RequestID string
	Tool      string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("pipeline: %s (%s/%s): %s: %v", e.Kind, e.Tool, e.RequestID, e.Message, e.Cause)
	}
	return fmt.Sprintf("pipeline: %s (%s/%s): %s", e.Kind, e.Tool, e.RequestID, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable delegates to the error kind's own classification.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

func newError(kind kmodel.ErrorKind, requestID, tool, message string, cause error) *Error {
	return &Error{Kind: kind, RequestID: requestID, Tool: tool, Message: message, Cause: cause}
}
