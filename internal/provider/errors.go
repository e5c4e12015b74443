package provider

import (
	"errors"
	"fmt"
)

// The client separates failures a caller may want to retry (transport)
// from failures that mean the payload is malformed (decode, missing
// field). Callers branch with errors.As / errors.Is.

// TransportError wraps a connectivity or timeout failure. The request
// may never have reached the provider; retrying is reasonable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: transport: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError wraps a response body that is not valid JSON.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: decode response: %v", e.Op, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// MissingFieldError reports well-formed JSON lacking a required key.
type MissingFieldError struct {
	Op    string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: response missing field %q", e.Op, e.Field)
}

var (
	// ErrMissingURL means an identifier could not be composed into a
	// request path (typically an empty trip or vehicle ID).
	ErrMissingURL = errors.New("cannot compose request URL from identifier")

	// ErrInvalidVehicleName means the provider returned a vehicle name
	// with no path segments to strip the ID from.
	ErrInvalidVehicleName = errors.New("invalid vehicle name in response")
)
