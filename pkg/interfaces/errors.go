package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrCoordinatorStopped = errors.New("coordinator is not running")
	ErrJournalUnavailable = errors.New("alert journal unavailable")
)
