// Package apierror defines the tagged error taxonomy every component in
// this module returns through. Callers discriminate with apierror.Is
// (or errors.As, since Error implements Unwrap) rather than matching on
// error strings.
package apierror

import (
	"errors"
	"fmt"
)

// Kind discriminates the category of an Error.
type Kind int

const (
	// PolicyNotConfigured means a request was attempted before the caller
	// chose an alternative-routing policy.
	PolicyNotConfigured Kind = iota
	// NewConnection means a TCP/TLS connect failed.
	NewConnection
	// Timeout means a read or connect deadline was exceeded.
	Timeout
	// TLSPinning means a handshake-time certificate pin mismatch occurred.
	TLSPinning
	// NetworkError means every alt-routing candidate was exhausted.
	NetworkError
	// APIError means the application envelope or HTTP layer reported a
	// non-success condition.
	APIError
	// InvalidModulus means the PGP-signed SRP modulus failed verification.
	InvalidModulus
	// InvalidChallenge means the SRP client could not derive a client proof
	// from the server's challenge (B is degenerate).
	InvalidChallenge
	// InvalidPassword means the server accepted the request but returned no
	// server proof, implying the submitted password was wrong.
	InvalidPassword
	// InvalidServerProof means the server's proof did not verify against the
	// locally computed session key.
	InvalidServerProof
	// UnsupportedAuthVersion means the server's SRP version is not one this
	// client implements.
	UnsupportedAuthVersion
	// BadMethod means an unrecognized HTTP method was requested.
	BadMethod
	// MissingDependency means a required runtime dependency is absent.
	MissingDependency
	// UnknownConnection is a catch-all for unclassified transport failures.
	UnknownConnection
)

// String returns the taxonomy name of the Kind.
func (k Kind) String() string {
	switch k {
	case PolicyNotConfigured:
		return "PolicyNotConfigured"
	case NewConnection:
		return "NewConnection"
	case Timeout:
		return "Timeout"
	case TLSPinning:
		return "TLSPinning"
	case NetworkError:
		return "NetworkError"
	case APIError:
		return "APIError"
	case InvalidModulus:
		return "InvalidModulus"
	case InvalidChallenge:
		return "InvalidChallenge"
	case InvalidPassword:
		return "InvalidPassword"
	case InvalidServerProof:
		return "InvalidServerProof"
	case UnsupportedAuthVersion:
		return "UnsupportedAuthVersion"
	case BadMethod:
		return "BadMethod"
	case MissingDependency:
		return "MissingDependency"
	case UnknownConnection:
		return "UnknownConnection"
	default:
		return "Unknown"
	}
}

// Error is the single error type every package in this module returns.
// Kind discriminates the category; the remaining fields are populated only
// where that Kind makes them meaningful.
type Error struct {
	Kind    Kind
	Message string

	Host string   // TLSPinning: the host whose cert failed to match
	Pins []string // TLSPinning: the SPKI digests actually observed

	Code    int               // APIError: application Code, or HTTP status for non-JSON bodies
	Headers map[string]string // APIError: response headers

	Err error // wrapped cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	return e.Kind.String()
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// Is reports whether err is an *Error of the given Kind, unwrapping as
// needed. This is the canonical discriminator callers should use instead of
// type-asserting directly.
func Is(err error, kind Kind) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

// TLSPinningError constructs a TLSPinning Error carrying the offending host
// and the SPKI digests observed on the presented certificate chain.
func TLSPinningError(host string, pins []string) *Error {
	return &Error{
		Kind:    TLSPinning,
		Message: fmt.Sprintf("no configured pin matched for host %s", host),
		Host:    host,
		Pins:    pins,
	}
}

// APIErrorFromEnvelope constructs an APIError Error from an application
// envelope's Code/Error fields plus the response headers.
func APIErrorFromEnvelope(code int, message string, headers map[string]string) *Error {
	return &Error{
		Kind:    APIError,
		Message: message,
		Code:    code,
		Headers: headers,
	}
}
