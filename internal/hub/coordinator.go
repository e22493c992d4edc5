package hub

import (
	"context"

	"proctor/internal/metrics"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

var _ interfaces.Coordinator = (*Hub)(nil)

// query runs fn inside the event loop and waits for it to finish
func (h *Hub) query(ctx context.Context, fn func()) error {
	if !h.isRunning() {
		return interfaces.ErrCoordinatorStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q := queryEvent{fn: fn, reply: make(chan struct{})}
	select {
	case h.events <- q:
	case <-h.done:
		return interfaces.ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-q.reply:
		return nil
	case <-h.done:
		return interfaces.ErrCoordinatorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListSessions returns every session, oldest first
func (h *Hub) ListSessions(ctx context.Context) ([]types.SessionSnapshot, error) {
	var sessions []types.SessionSnapshot
	if err := h.query(ctx, func() {
		sessions = h.directory.List()
	}); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession returns one session
func (h *Hub) GetSession(ctx context.Context, sessionID string) (*types.SessionSnapshot, error) {
	var (
		snap   types.SessionSnapshot
		exists bool
	)
	if err := h.query(ctx, func() {
		snap, exists = h.directory.Get(sessionID)
	}); err != nil {
		return nil, err
	}
	if !exists {
		return nil, interfaces.ErrSessionNotFound
	}
	return &snap, nil
}

// EndSession is the external end-session signal. Idempotent.
func (h *Hub) EndSession(ctx context.Context, sessionID string) error {
	return h.query(ctx, func() {
		h.endSession(sessionID, metrics.EndExternal)
	})
}

// RecordCameraBlackWarning is the external detector hook
func (h *Hub) RecordCameraBlackWarning(ctx context.Context, sessionID string) (int, error) {
	var (
		count  int
		recErr error
	)
	if err := h.query(ctx, func() {
		count, recErr = h.directory.RecordCameraBlackWarning(sessionID)
	}); err != nil {
		return 0, err
	}
	return count, recErr
}

// Stats merges registry and directory counters
func (h *Hub) Stats(ctx context.Context) (map[string]int, error) {
	stats := make(map[string]int)
	if err := h.query(ctx, func() {
		for k, v := range h.registry.GetStats() {
			stats[k] = v
		}
		for k, v := range h.directory.GetStats() {
			stats[k] = v
		}
		stats["pending_connections"] = len(h.pending)
	}); err != nil {
		return nil, err
	}
	return stats, nil
}
