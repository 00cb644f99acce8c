package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Code is a machine-readable failure category.
type Code string

const (
	CodeQuota     Code = "quota"
	CodeNetwork   Code = "network"
	CodeTimeout   Code = "timeout"
	CodeMalformed Code = "malformed_response"
	CodeUnknown   Code = "unknown"
)

// Error is a failure reported by a Generator or CaptionGenerator.
// It is always recoverable by the caller through explicit user action.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("generation failed (%s): %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("generation failed (%s): %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an Error with the given code.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Classify converts any error returned by a collaborator into *Error.
// Errors that already are *Error pass through; deadline and network errors are mapped to
// their codes and everything else becomes CodeUnknown.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeTimeout, "generator call timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewError(CodeTimeout, "generator call timed out", err)
		}
		return NewError(CodeNetwork, "network error", err)
	}
	return NewError(CodeUnknown, "generator call failed", err)
}

// CodeOf returns the failure code of err, or "" when err is not a generation failure.
func CodeOf(err error) Code {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Code
	}
	return ""
}
