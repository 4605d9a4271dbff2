package detect

import (
	"errors"
	"fmt"
)

// Sentinel errors for detection calls.
var (
	// ErrNetwork is returned when the detector cannot be reached.
	ErrNetwork = errors.New("detect: network error")

	// ErrBadResponse is returned when the detector answers with a non-200
	// status or a payload that does not match the response schema.
	ErrBadResponse = errors.New("detect: bad response")

	errEmptyBody = errors.New("empty body")
)

// APIError is a non-200 response from the detector.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("detect: API error %d: %s", e.StatusCode, e.Message)
}

// Is makes every APIError match ErrBadResponse.
func (e *APIError) Is(target error) bool {
	return target == ErrBadResponse
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// Error wraps a failure with the operation that produced it.
type Error struct {
	Op   string
	Kind error // ErrNetwork or ErrBadResponse
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("detect %s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func networkError(op string, err error) error {
	return &Error{Op: op, Kind: ErrNetwork, Err: err}
}

func badResponse(op string, err error) error {
	return &Error{Op: op, Kind: ErrBadResponse, Err: err}
}
