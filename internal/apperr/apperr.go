// Package apperr defines the error taxonomy shared by the credential and ledger
// components and its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
	"time"
)

var (
	ErrDuplicateAccount      = errors.New("duplicate account")
	ErrInvalidOrExpiredOtp   = errors.New("invalid or expired otp")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not found")
	ErrInvalidStatus         = errors.New("invalid status")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrMissingAttachment     = errors.New("missing attachment")
	ErrDeliveryFailure       = errors.New("delivery failure")

	ErrInvalidInput     = errors.New("invalid input")
	ErrNotVerified      = errors.New("account not verified")
	ErrRateLimited      = errors.New("rate limited")
	ErrDuplicateInvoice = errors.New("duplicate invoice")
)

// Error carries a human readable message for one of the sentinel kinds.
type Error struct {
	Kind       error
	Message    string
	RetryAfter time.Duration
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// New returns an error that matches kind with errors.Is and reads as msg.
func New(kind error, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Throttled returns an ErrRateLimited error telling the caller when to retry.
func Throttled(msg string, after time.Duration) error {
	return &Error{Kind: ErrRateLimited, Message: msg, RetryAfter: after}
}

// RetryAfter returns the wait carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// Message returns the message to show a caller. Errors outside the taxonomy
// are reported as "internal error" so infrastructure details never leak.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if kind := Kind(err); kind != nil {
		return kind.Error()
	}
	return "internal error"
}

var kinds = []error{
	ErrDuplicateAccount, ErrInvalidOrExpiredOtp, ErrInvalidOrExpiredToken,
	ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrInvalidStatus,
	ErrInvalidAmount, ErrMissingAttachment, ErrDeliveryFailure,
	ErrInvalidInput, ErrNotVerified, ErrRateLimited, ErrDuplicateInvoice,
}

// Kind returns the sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// HTTPStatus maps err onto a response status.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrDuplicateAccount, ErrDuplicateInvoice:
		return http.StatusConflict
	case ErrInvalidOrExpiredOtp, ErrInvalidOrExpiredToken, ErrInvalidStatus,
		ErrInvalidAmount, ErrMissingAttachment, ErrInvalidInput:
		return http.StatusBadRequest
	case ErrUnauthenticated:
		return http.StatusUnauthorized
	case ErrForbidden, ErrNotVerified:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrDeliveryFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
