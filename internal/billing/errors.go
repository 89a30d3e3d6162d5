package billing

import "errors"

// Error taxonomy for the billing engine. Callers branch with errors.Is.
//
// ErrConflict means a conditional update was lost to a concurrent caller and
// should be treated as idempotent success, not retried as new work.
// ErrInsufficientBalance is an expected termination condition, not a failure.
var (
	ErrValidation          = errors.New("billing: invalid input")
	ErrNotFound            = errors.New("billing: not found")
	ErrAuthorization       = errors.New("billing: not allowed")
	ErrInsufficientBalance = errors.New("billing: insufficient balance")
	ErrConflict            = errors.New("billing: conflicting update")
	ErrTransient           = errors.New("billing: transient infra error")
)
