// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error taxonomy used across the Aion kernel.
//
// Every kernel failure carries a Code so callers can branch with errors.Is
// against the exported sentinels without string matching.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies kernel errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeConfiguration indicates bad or missing settings, or an unresolvable
	// model type or provider.
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// CodeValidation indicates a handler precondition failed. It is logically a
	// no-op and is never surfaced to pipeline callers.
	CodeValidation ErrorCode = "VALIDATION_ERROR"

	// CodeExecution indicates a handler failed while running.
	CodeExecution ErrorCode = "EXECUTION_ERROR"

	// CodeBridgeProtocol indicates a malformed bridge message or an unknown
	// request type. It is answered in-band.
	CodeBridgeProtocol ErrorCode = "BRIDGE_PROTOCOL_ERROR"

	// CodeBridgeUnavailable indicates the bridge worker process is gone.
	CodeBridgeUnavailable ErrorCode = "BRIDGE_UNAVAILABLE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeContextLost indicates the calling context was canceled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Sentinels usable with errors.Is. Matching is by Code, so any *Error carrying
// the same code matches regardless of message.
var (
	ErrModelTypeNotRegistered = &Error{Code: CodeConfiguration, Message: "model type not registered"}
	ErrModelProviderNotFound  = &Error{Code: CodeConfiguration, Message: "model provider not found"}
	ErrBridgeUnavailable      = &Error{Code: CodeBridgeUnavailable, Message: "bridge unavailable"}
	ErrBridgeProtocol         = &Error{Code: CodeBridgeProtocol, Message: "bridge protocol error"}
	ErrTimeout                = &Error{Code: CodeTimeout, Message: "timeout"}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. Model lookup
// sentinels share CodeConfiguration, so they are told apart by message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	switch t {
	case ErrModelTypeNotRegistered, ErrModelProviderNotFound:
		return e.Message == t.Message
	}
	return true
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Err         string         `json:"error,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
		Recoverable bool           `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As converts err to *Error, wrapping unknown errors as CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// ModelTypeNotRegistered builds the error returned when no handler exists for modelType.
func ModelTypeNotRegistered(modelType string) *Error {
	return &Error{
		Code:    CodeConfiguration,
		Message: ErrModelTypeNotRegistered.Message,
		Err:     fmt.Errorf("no handler registered for model type %q", modelType),
		Context: map[string]any{"model_type": modelType},
	}
}

// ModelProviderNotFound builds the error returned when provider has no handler for modelType.
func ModelProviderNotFound(modelType, provider string) *Error {
	return &Error{
		Code:    CodeConfiguration,
		Message: ErrModelProviderNotFound.Message,
		Err:     fmt.Errorf("provider %q has no handler for model type %q", provider, modelType),
		Context: map[string]any{"model_type": modelType, "provider": provider},
	}
}

// BridgeUnavailable builds the error returned by proxies of a dead worker.
func BridgeUnavailable(plugin string, cause error) *Error {
	return &Error{
		Code:        CodeBridgeUnavailable,
		Message:     "bridge unavailable",
		Err:         cause,
		Context:     map[string]any{"plugin": plugin},
		Recoverable: true,
	}
}
