package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can react without parsing messages.
type Kind string

const (
	KindValidation            Kind = "validation_error"
	KindNotFound              Kind = "not_found"
	KindOrderNotPending       Kind = "order_not_pending"
	KindProofAlreadyUsed      Kind = "proof_already_used"
	KindInvalidProof          Kind = "invalid_proof"
	KindIndeterminate         Kind = "indeterminate"
	KindTimeout               Kind = "timeout"
	KindInsufficientBalance   Kind = "insufficient_balance"
	KindConversionUnavailable Kind = "conversion_unavailable"
	KindSignatureInvalid      Kind = "signature_invalid"
	KindUnauthorized          Kind = "unauthorized"
	KindInvalidState          Kind = "invalid_state"
	KindInternal              Kind = "internal"
)

// Error is the domain error returned by stores and services.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller should retry the same request later.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindIndeterminate, KindTimeout:
		return true
	}
	return false
}

// PublicMessage returns a message safe to show to API clients.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps a kind to the status code used by the API.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindConversionUnavailable:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindOrderNotPending, KindProofAlreadyUsed, KindInvalidState:
		return http.StatusConflict
	case KindInvalidProof:
		return http.StatusUnprocessableEntity
	case KindIndeterminate:
		return http.StatusAccepted
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindSignatureInvalid, KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
