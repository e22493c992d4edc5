package interfaces

import (
	"context"

	"proctor/pkg/types"
)

// AlertQuery filters journal reads. Empty fields match everything.
type AlertQuery struct {
	ExamID string
	UserID string
	Limit  int
}

// AlertJournal persists broadcast alerts for later retrieval
// FUNCTIONAL DISCOVERY: The journal is an external collaborator; the broadcaster
// never reads from it and keeps no alert state of its own
type AlertJournal interface {
	// RecordAlert stores an alert. Storing the same alert ID twice is not an error.
	RecordAlert(ctx context.Context, alert *types.Alert) error

	// ListAlerts returns alerts newest first
	ListAlerts(ctx context.Context, query AlertQuery) ([]*types.Alert, error)

	// HealthCheck verifies the journal is reachable
	HealthCheck(ctx context.Context) error

	Close() error
}
