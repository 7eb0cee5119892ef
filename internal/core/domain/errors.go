package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is a stable protocol error identifier. Codes are part of the
// protocol contract: every binding surfaces the same strings.
type ErrorCode string

const (
	ErrCodeSignatureInvalid       ErrorCode = "signature-invalid"
	ErrCodeMACInvalid             ErrorCode = "mac-invalid"
	ErrCodeSequenceReplayed       ErrorCode = "sequence-replayed"
	ErrCodeNonceReplayed          ErrorCode = "nonce-replayed"
	ErrCodeHandshakeTimeout       ErrorCode = "handshake-timeout"
	ErrCodeHandshakeFailed        ErrorCode = "handshake-failed"
	ErrCodeProfileImmutable       ErrorCode = "profile-immutable"
	ErrCodeProfileInvalid         ErrorCode = "profile-invalid"
	ErrCodeStreamTooLarge         ErrorCode = "stream-too-large"
	ErrCodeUnsupportedChannelMode ErrorCode = "unsupported-channel-mode"
	ErrCodeSessionNotFound        ErrorCode = "session-not-found"
	ErrCodeSessionClosed          ErrorCode = "session-closed"
	ErrCodeSessionNotReady        ErrorCode = "session-not-ready"
	ErrCodeDeliveryFailed         ErrorCode = "delivery-failed"
	ErrCodeTransport              ErrorCode = "transport"
	ErrCodeMalformedMessage       ErrorCode = "malformed-message"
)

// ProtocolError carries a stable code and the last concrete cause.
// Recoverable conditions are retried internally; anything surfaced through
// this type already exhausted its retry budget.
type ProtocolError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewError creates a protocol error with the given code.
func NewError(code ErrorCode, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// WrapError attaches a cause to a protocol error without masking it.
func WrapError(err error, code ErrorCode, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Cause: err}
}

// CodeOf extracts the protocol error code from an error chain, or "" when
// the chain contains no ProtocolError.
func CodeOf(err error) ErrorCode {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given protocol error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
