package models

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to callers alongside the error kind.
const (
	CodeWorkflowInactive     = "WORKFLOW_INACTIVE"
	CodeWorkflowEmpty        = "WORKFLOW_EMPTY"
	CodeInvalidEdge          = "INVALID_EDGE"
	CodeNoEntry              = "NO_ENTRY"
	CodeCycleDetected        = "CYCLE_DETECTED"
	CodeTypeMismatch         = "TYPE_MISMATCH"
	CodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	CodeUnknownSourcePath    = "UNKNOWN_SOURCE_PATH"
	CodeContractInvalid      = "CONTRACT_INVALID"
	CodePolicyNodeBlocked    = "POLICY_NODE_BLOCKED"
	CodePolicyModelBlocked   = "POLICY_MODEL_BLOCKED"
	CodePolicyCostExceeded   = "POLICY_COST_EXCEEDED"
	CodePolicyTokensExceeded = "POLICY_TOKENS_EXCEEDED"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInsufficientCredits  = "INSUFFICIENT_CREDITS"
	CodeNotFound             = "NOT_FOUND"
	CodeDecryptionFailed     = "DECRYPTION_FAILED"
	CodeExecutionTimeout     = "EXECUTION_TIMEOUT"
	CodeExecutionCancelled   = "EXECUTION_CANCELLED"
	CodeStrictReplayMiss     = "STRICT_REPLAY_MISS"
)

// Sentinel errors shared across components.
var (
	ErrNotFound         = errors.New("not found")
	ErrDecryptionFailed = errors.New("credential decryption failed")
)

// CodedError carries a stable machine-readable code with the message.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error { return e.Err }

// NewCodedError creates a coded error
func NewCodedError(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// WrapCoded wraps an underlying error with a stable code
func WrapCoded(code, message string, err error) *CodedError {
	return &CodedError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the stable code from an error chain, or "" if none
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}
