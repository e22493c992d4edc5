package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proctor/internal/registry"
	"proctor/internal/session"
	"proctor/internal/testutil"
	"proctor/pkg/types"
)

var testConfig = Config{HeartbeatWindow: 30 * time.Second, ProbeGrace: 10 * time.Second}

func setup(t *testing.T) (*Manager, *registry.Registry, *testutil.Clock) {
	t.Helper()
	clock := testutil.NewClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	reg := registry.NewRegistry(clock.Now)
	m, err := NewManager(reg, testConfig, clock.Now, nil)
	require.NoError(t, err)
	return m, reg, clock
}

func TestNewManager_RejectsInvalidWindows(t *testing.T) {
	reg := registry.NewRegistry(nil)
	_, err := NewManager(reg, Config{HeartbeatWindow: 0, ProbeGrace: time.Second}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidWindow)
	_, err = NewManager(reg, Config{HeartbeatWindow: time.Second, ProbeGrace: -time.Second}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestSweep_ActiveWithinWindowUntouched(t *testing.T) {
	m, reg, clock := setup(t)
	peer := testutil.NewFakePeer("u1")
	conn, err := reg.Register(types.RoleStudent, "u1", peer)
	require.NoError(t, err)

	clock.Advance(29 * time.Second)
	result := m.Sweep()
	assert.Empty(t, result.Probed)
	assert.Equal(t, types.StateActive, conn.State)
	assert.Equal(t, 0, peer.Pings())
}

func TestSweep_StaleRecoversOnActivity(t *testing.T) {
	m, reg, clock := setup(t)
	peer := testutil.NewFakePeer("u1")
	conn, _ := reg.Register(types.RoleStudent, "u1", peer)

	clock.Advance(30 * time.Second)
	result := m.Sweep()
	require.Len(t, result.Probed, 1)
	assert.Equal(t, types.StateStale, conn.State)
	assert.Equal(t, 1, peer.Pings())

	// A second sweep inside the grace window does not probe again
	clock.Advance(5 * time.Second)
	result = m.Sweep()
	assert.Empty(t, result.Probed)
	assert.Empty(t, result.Terminated)

	m.Observe(conn.ID)
	assert.Equal(t, types.StateActive, conn.State)

	clock.Advance(10 * time.Second)
	result = m.Sweep()
	assert.Empty(t, result.Terminated)
	_, ok := reg.Get(conn.ID)
	assert.True(t, ok)
}

// Liveness cascade: ACTIVE -> STALE -> TERMINATED clears the session binding at once
func TestSweep_LivenessCascade(t *testing.T) {
	m, reg, clock := setup(t)
	dir := session.NewDirectory(clock.Now)
	reg.OnRemove(func(conn *registry.Connection) {
		dir.OnConnectionRemoved(conn.ID)
	})

	peer := testutil.NewFakePeer("u1")
	conn, _ := reg.Register(types.RoleStudent, "u1", peer)
	sessionID, _, err := dir.StartSession(session.StartRequest{ExamID: "e1", UserID: "u1"})
	require.NoError(t, err)
	_, err = dir.BindConnection(sessionID, conn.ID)
	require.NoError(t, err)

	other, _ := reg.Register(types.RoleAdmin, "a1", testutil.NewFakePeer("a1"))

	clock.Advance(30 * time.Second)
	m.Observe(other.ID)
	m.Sweep()
	assert.Equal(t, types.StateStale, conn.State)

	clock.Advance(10 * time.Second)
	result := m.Sweep()
	require.Len(t, result.Terminated, 1)
	assert.Equal(t, conn.ID, result.Terminated[0].ID)
	assert.Equal(t, types.StateTerminated, conn.State)

	_, ok := reg.Get(conn.ID)
	assert.False(t, ok)
	snap, ok := dir.Get(sessionID)
	require.True(t, ok)
	assert.Nil(t, snap.StudentConnectionID)

	_, ok = reg.Get(other.ID)
	assert.True(t, ok, "the admin kept talking and stays registered")
}

func TestSweep_ProbeFailureStillWaitsForGrace(t *testing.T) {
	m, reg, clock := setup(t)
	peer := testutil.NewFakePeer("u1")
	conn, _ := reg.Register(types.RoleStudent, "u1", peer)
	require.NoError(t, peer.Close())

	clock.Advance(30 * time.Second)
	result := m.Sweep()
	require.Len(t, result.Probed, 1)
	assert.Empty(t, result.Terminated)

	clock.Advance(10 * time.Second)
	result = m.Sweep()
	require.Len(t, result.Terminated, 1)
	assert.Equal(t, conn.ID, result.Terminated[0].ID)
}
