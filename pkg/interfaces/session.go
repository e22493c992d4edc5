package interfaces

import (
	"context"

	"proctor/pkg/types"
)

// Coordinator is the view of the running coordinator used by the HTTP surface.
// Every call is executed inside the coordinator's event loop.
type Coordinator interface {
	// ListSessions returns a snapshot of every session in the directory
	ListSessions(ctx context.Context) ([]types.SessionSnapshot, error)

	// GetSession returns one session, or ErrSessionNotFound
	GetSession(ctx context.Context, sessionID string) (*types.SessionSnapshot, error)

	// EndSession removes a session. Ending an unknown session is not an error.
	EndSession(ctx context.Context, sessionID string) error

	// RecordCameraBlackWarning increments the session's warning counter and returns the new value
	RecordCameraBlackWarning(ctx context.Context, sessionID string) (int, error)

	// Stats returns connection and session counters
	Stats(ctx context.Context) (map[string]int, error)
}
