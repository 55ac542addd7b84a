package adapter

import (
	"errors"
)

var (
	// ErrNotFound is returned when a requested note does not exist for the user.
	ErrNotFound = errors.New("note not found")

	// ErrConflict is returned when a conditional write lost a race with another
	// writer and the caller should re-read before retrying.
	ErrConflict = errors.New("concurrent write")

	// ErrInvalidNote is returned for push payloads that can never be accepted.
	ErrInvalidNote = errors.New("invalid note payload")
)
