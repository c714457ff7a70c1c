// Package domainerrors carries the error taxonomy shared by services, stores and
// transports. Every error produced at a service boundary has a Code; transports
// translate codes to status codes and never inspect messages.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeUnauthorized       Code = "unauthorized"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// CodeConfiguration marks a missing required input. Caller's fault, never retried.
	CodeConfiguration Code = "configuration_error"
	// CodeProvider marks an upstream verification service failure. The whole
	// submission is safe to retry.
	CodeProvider Code = "provider_error"
	// CodeUnknownReference marks a callback that references no known document.
	CodeUnknownReference Code = "unknown_reference"
	// CodeMalformedPayload marks a callback body that cannot be parsed.
	CodeMalformedPayload Code = "malformed_payload"
	// CodeFetch marks a document storage fetch that returned a non-2xx status.
	CodeFetch Code = "fetch_error"
	// CodeConnection marks a ledger session that could not be established or was lost.
	CodeConnection Code = "connection_error"
	// CodeLedgerTimeout marks a submission with no validation inside the wait window.
	// The outcome is ambiguous: re-query by hash before resubmitting.
	CodeLedgerTimeout Code = "ledger_timeout"
	// CodeLedgerRejected marks a definitive failure code from the network.
	CodeLedgerRejected Code = "ledger_rejected"
)

// Error is a coded domain error. Err is optional and preserved for errors.Is/As.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to err. Wrap returns nil when err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any domain error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is an alias of HasCode kept for handler readability.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code to the HTTP status transports should answer with.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidation, CodeInvalidInput, CodeConfiguration, CodeMalformedPayload:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound, CodeUnknownReference:
		return http.StatusNotFound
	case CodeConflict, CodeInvariantViolation:
		return http.StatusConflict
	case CodeTimeout, CodeLedgerTimeout:
		return http.StatusGatewayTimeout
	case CodeProvider, CodeFetch, CodeConnection:
		return http.StatusBadGateway
	case CodeLedgerRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
