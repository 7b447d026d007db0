package session

import "errors"

// Common session errors
var (
	// ErrSessionNotFound is returned when a session cannot be found
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionAlreadyExists is returned when trying to create a session with an existing ID
	ErrSessionAlreadyExists = errors.New("session already exists")

	// ErrInvalidStateTransition is returned when a stream state change would
	// move backward or leave the terminal state
	ErrInvalidStateTransition = errors.New("invalid stream state transition")
)
