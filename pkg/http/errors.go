package http

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthKind classifies Session Manager login failures.
type AuthKind string

const (
	KindInvalidCredentials AuthKind = "invalid_credentials"
	KindNetworkFailure     AuthKind = "network_failure"
)

// AuthError is returned by the Session Manager when login fails.
type AuthError struct {
	Kind AuthKind
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("auth %s", e.Kind)
}

// Unwrap returns underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new auth error.
func NewAuthError(kind AuthKind, err error) *AuthError {
	return &AuthError{Kind: kind, Err: err}
}

// IsAuthKind reports whether err is an AuthError of the given kind.
func IsAuthKind(err error, kind AuthKind) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == kind
}

// RemoteKind classifies REST Gateway failures.
type RemoteKind string

const (
	KindUnavailable  RemoteKind = "unavailable"
	KindUnauthorized RemoteKind = "unauthorized"
	KindMalformed    RemoteKind = "malformed"
)

// RemoteError is the uniform error surfaced by the REST Gateway. No
// gateway error is ever swallowed; callers decide the user-facing
// handling per kind.
type RemoteError struct {
	Kind   RemoteKind
	Op     string // gateway operation, e.g. "fetch_signals"
	Status int    // HTTP status when one was received, 0 otherwise
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s (%s): %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s (%s)", e.Kind, e.Op)
}

// Unwrap returns underlying error.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError creates a new remote error.
func NewRemoteError(kind RemoteKind, op string, err error) *RemoteError {
	return &RemoteError{Kind: kind, Op: op, Err: err}
}

// WithStatus records the HTTP status the remote responded with.
func (e *RemoteError) WithStatus(status int) *RemoteError {
	e.Status = status
	return e
}

// IsRemoteKind reports whether err is a RemoteError of the given kind.
func IsRemoteKind(err error, kind RemoteKind) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == kind
}

// AppError represents an application-level error with HTTP status,
// used by the relay's local API responses.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// BadRequestError creates a 400 error.
func BadRequestError(message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", message, http.StatusBadRequest)
}

// NotFoundError creates a 404 error.
func NotFoundError(message string) *AppError {
	return NewAppError("ERR_NOT_FOUND", message, http.StatusNotFound)
}

// ServiceUnavailableError creates a 503 error.
func ServiceUnavailableError(message string) *AppError {
	return NewAppError("ERR_UNAVAILABLE", message, http.StatusServiceUnavailable)
}

// InternalError creates a 500 error.
func InternalError(message string) *AppError {
	return NewAppError("ERR_INTERNAL", message, http.StatusInternalServerError)
}
