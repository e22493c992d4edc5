// Package liveness drives the ACTIVE -> STALE -> TERMINATED state machine of registered connections.
package liveness

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"proctor/internal/registry"
	"proctor/pkg/types"
)

// ErrInvalidWindow is returned for non-positive heartbeat or grace windows
var ErrInvalidWindow = errors.New("liveness windows must be positive")

// Config holds the two liveness windows
type Config struct {
	HeartbeatWindow time.Duration
	ProbeGrace      time.Duration
}

// Validate checks both windows are positive
func (c Config) Validate() error {
	if c.HeartbeatWindow <= 0 || c.ProbeGrace <= 0 {
		return ErrInvalidWindow
	}
	return nil
}

// SweepResult reports the transitions made by one sweep
type SweepResult struct {
	Probed     []*registry.Connection
	Terminated []*registry.Connection
}

// Manager evaluates every connection on each tick
// ARCHITECTURAL DISCOVERY: Runs on the hub goroutine like the registry it mutates,
// so a tick never interleaves with message handling
type Manager struct {
	registry *registry.Registry
	config   Config
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// NewManager creates a liveness manager. A nil clock uses time.Now.
func NewManager(reg *registry.Registry, config Config, now func() time.Time, logger *zap.SugaredLogger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{registry: reg, config: config, now: now, logger: logger}, nil
}

// Observe records inbound activity or a probe response; STALE returns to ACTIVE
func (m *Manager) Observe(connectionID string) {
	m.registry.Touch(connectionID)
}

// Sweep probes connections silent for the heartbeat window and terminates
// connections whose probe went unanswered for the grace window.
// FUNCTIONAL DISCOVERY: Termination goes through Registry.Unregister so the
// cascade into the session directory is identical to an explicit disconnect
func (m *Manager) Sweep() SweepResult {
	var result SweepResult
	now := m.now()

	for _, conn := range m.registry.All() {
		switch conn.State {
		case types.StateActive:
			if now.Sub(conn.LastSeenAt) < m.config.HeartbeatWindow {
				continue
			}
			conn.State = types.StateStale
			conn.ProbeSentAt = now
			if err := conn.Peer.Ping(); err != nil {
				m.logger.Warnw("Liveness probe failed",
					"connection_id", conn.ID, "remote_addr", conn.Peer.RemoteAddr(), "error", err)
			}
			result.Probed = append(result.Probed, conn)

		case types.StateStale:
			if now.Sub(conn.ProbeSentAt) < m.config.ProbeGrace {
				continue
			}
			if removed, ok := m.registry.Unregister(conn.ID); ok {
				m.logger.Infow("Connection terminated",
					"connection_id", removed.ID, "user_id", removed.UserID, "role", removed.Role,
					"reason", types.ErrLivenessTimeout.Error())
				result.Terminated = append(result.Terminated, removed)
			}
		}
	}
	return result
}
