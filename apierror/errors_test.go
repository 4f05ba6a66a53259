package apierror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{PolicyNotConfigured, "PolicyNotConfigured"},
		{NewConnection, "NewConnection"},
		{Timeout, "Timeout"},
		{TLSPinning, "TLSPinning"},
		{NetworkError, "NetworkError"},
		{APIError, "APIError"},
		{InvalidModulus, "InvalidModulus"},
		{InvalidChallenge, "InvalidChallenge"},
		{InvalidPassword, "InvalidPassword"},
		{InvalidServerProof, "InvalidServerProof"},
		{UnsupportedAuthVersion, "UnsupportedAuthVersion"},
		{BadMethod, "BadMethod"},
		{MissingDependency, "MissingDependency"},
		{UnknownConnection, "UnknownConnection"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.String())
		})
	}
}

func TestNewAndError(t *testing.T) {
	err := New(InvalidPassword, "server returned no proof")
	assert.Equal(t, "InvalidPassword: server returned no proof", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(NewConnection, cause, "dial tcp failed")

	assert.Equal(t, cause, err.Unwrap())
	assert.Equal(t, "NewConnection: dial tcp failed", err.Error())
	require.True(t, errors.Is(err, err))
	assert.True(t, errors.Is(fmt.Errorf("wrapped: %w", err), cause))
}

func TestIs(t *testing.T) {
	var err error = New(InvalidModulus, "signature mismatch")

	assert.True(t, Is(err, InvalidModulus))
	assert.False(t, Is(err, InvalidChallenge))
	assert.False(t, Is(errors.New("plain error"), InvalidModulus))
}

func TestTLSPinningError(t *testing.T) {
	err := TLSPinningError("alt2.example", []string{"sha256/AAAA", "sha256/BBBB"})

	assert.Equal(t, TLSPinning, err.Kind)
	assert.Equal(t, "alt2.example", err.Host)
	assert.Equal(t, []string{"sha256/AAAA", "sha256/BBBB"}, err.Pins)
	assert.True(t, Is(err, TLSPinning))
}

func TestAPIErrorFromEnvelope(t *testing.T) {
	headers := map[string]string{"Retry-After": "5"}
	err := APIErrorFromEnvelope(9001, "human verification required", headers)

	assert.Equal(t, APIError, err.Kind)
	assert.Equal(t, 9001, err.Code)
	assert.Equal(t, headers, err.Headers)
	assert.Equal(t, "APIError: human verification required", err.Error())
}

func TestErrorWithoutMessageFallsBackToCause(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := &Error{Kind: UnknownConnection, Err: cause}

	assert.Equal(t, "UnknownConnection: unexpected EOF", err.Error())
}

func TestErrorWithNeitherMessageNorCause(t *testing.T) {
	err := &Error{Kind: BadMethod}
	assert.Equal(t, "BadMethod", err.Error())
}
