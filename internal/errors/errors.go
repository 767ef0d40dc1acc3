// Package errors provides custom error types for feed-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrTickerClosed       = errors.New("ticker has shut down")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrTimeout            = errors.New("operation timed out")
	ErrDataTimeout        = errors.New("no data received within timeout window")
	ErrReconnectExhausted = errors.New("maximum reconnect attempts reached")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrDatabaseError      = errors.New("database error")
)

// ProtocolError represents a malformed or unrecognized sub-packet in a
// binary frame. It affects only the offending sub-packet, never the
// whole frame or the connection.
type ProtocolError struct {
	PacketLength int
	Reason       string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s (packet length %d)", e.Reason, e.PacketLength)
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(length int, reason string) *ProtocolError {
	return &ProtocolError{PacketLength: length, Reason: reason}
}

// ConnectionError represents a transport-level failure: DNS, TCP, TLS,
// handshake, or connect timeout.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s]: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(url string, err error) *ConnectionError {
	return &ConnectionError{URL: url, Err: err}
}

// ValidationError represents an invalid configuration field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
