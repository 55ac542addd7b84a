package syncer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoCredential is returned by the credential source when the device has
// never logged in (or has logged out).
var ErrNoCredential = errors.New("not logged in")

// ErrBusy is returned by operations that cannot run during a sync cycle.
var ErrBusy = errors.New("sync in progress")

// AuthError means the credential is missing, invalid or expired. It aborts
// the whole cycle; the user has to log in again.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "authentication failed: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// DecryptError lists pulled notes that could not be opened with this
// device's key. The pull baseline stays put until they can be.
type DecryptError struct {
	NoteIDs []string
	Err     error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("cannot decrypt %d note(s) %s: %v", len(e.NoteIDs), strings.Join(e.NoteIDs, ", "), e.Err)
}
func (e *DecryptError) Unwrap() error { return e.Err }

// NetworkError is a transport failure, including timeouts. Always retried.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-success response not explained by auth.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Body)
}

// Permanent reports whether resending the same request cannot succeed:
// the server rejected the payload itself.
func (e *ServerError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// IsAuth reports whether err is (or wraps) an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
