package kmodel

// ErrorKind is the closed taxonomy of pipeline failures (spec §7). Exactly
// one kind (or none, on success) is attached to any PipelineResult.
type ErrorKind string

const (
	ErrUnknownTool         ErrorKind = "unknown_tool"
	ErrInvalidParams       ErrorKind = "invalid_params"
	ErrUnapproved          ErrorKind = "unapproved"
	ErrHandlerTimeout      ErrorKind = "handler_timeout"
	ErrHandlerError        ErrorKind = "handler_error"
	ErrVerificationFailed  ErrorKind = "verification_failed"
	ErrCompensationFailed  ErrorKind = "compensation_failed"
	ErrStateMachineRejected ErrorKind = "state_machine_rejected"
)

// Retryable reports whether the pipeline layer should consider this error
// kind eligible for an automatic retry. Per spec §7/§9 only a handler
// timeout is retry-eligible at this layer; everything else reflects either
// a policy decision (unapproved) or a fully-reported structural failure
// that retrying would not fix.
func (k ErrorKind) Retryable() bool {
	return k == ErrHandlerTimeout
}

// String implements fmt.Stringer.
func (k ErrorKind) String() string { return string(k) }
