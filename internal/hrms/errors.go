package hrms

import (
	"errors"
	"fmt"
)

// AuthError indicates the session token is missing, invalid or expired.
// It is surfaced to the session owner and never retried locally.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// NetworkError is a transient transport failure: connection errors,
// timeouts and 5xx responses.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error on %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error on %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NotFoundError means the referenced notification does not exist or is not
// owned by the caller.
type NotFoundError struct {
	NotificationID int64
	Message        string
}

func (e *NotFoundError) Error() string {
	if e.NotificationID != 0 {
		return fmt.Sprintf("notification %d not found: %s", e.NotificationID, e.Message)
	}
	return fmt.Sprintf("not found: %s", e.Message)
}

// ValidationError is a malformed request, detected locally or by the server.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// DeserializationError is a payload that could not be decoded, either a
// response body or a pushed event.
type DeserializationError struct {
	Source  string
	Payload string
	Err     error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.Source, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response outside the taxonomy above, e.g. 403.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s: %s", e.StatusCode, e.Op, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsNetworkError reports whether err (or any error in its chain) is a NetworkError.
func IsNetworkError(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsNotFoundError reports whether err (or any error in its chain) is a NotFoundError.
func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsValidationError reports whether err (or any error in its chain) is a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsDeserializationError reports whether err (or any error in its chain) is
// a DeserializationError.
func IsDeserializationError(err error) bool {
	var target *DeserializationError
	return errors.As(err, &target)
}
