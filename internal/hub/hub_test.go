package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proctor/internal/registry"
	"proctor/internal/testutil"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

func TestNewHub_RequiresStores(t *testing.T) {
	_, err := NewHub(testConfig, Deps{Registry: registry.NewRegistry(nil)})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestHub_StartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.hub.Start(ctx))
	assert.ErrorIs(t, f.hub.Start(ctx), ErrHubAlreadyRunning)

	require.NoError(t, f.hub.Stop())
	assert.ErrorIs(t, f.hub.Stop(), ErrHubNotRunning)

	select {
	case <-f.hub.Done():
	default:
		t.Fatal("loop should have exited")
	}

	assert.ErrorIs(t, f.hub.Receive(testutil.NewFakePeer("x"), &types.Envelope{}), ErrHubNotRunning)
	_, err := f.hub.ListSessions(ctx)
	assert.ErrorIs(t, err, interfaces.ErrCoordinatorStopped)
}

func TestHub_ContextCancellationStopsLoop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, f.hub.Start(ctx))
	cancel()

	select {
	case <-f.hub.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on cancellation")
	}
	_, err := f.hub.Stats(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrCoordinatorStopped)
	require.NoError(t, f.hub.Stop())
}

func TestHub_EventsThroughRunningLoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.hub.Start(ctx))
	defer f.hub.Stop()

	peer := testutil.NewFakePeer("u1")
	require.NoError(t, f.hub.Connect(peer))
	require.NoError(t, f.hub.Receive(peer, &types.Envelope{
		Type:   types.MessageTypeRegister,
		Role:   types.RoleStudent,
		UserID: "u1",
		ExamID: "e1",
	}))

	// Queries are ordered after the events queued before them
	sessions, err := f.hub.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "e1:u1", sessions[0].ID)

	snap, err := f.hub.GetSession(ctx, "e1:u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", snap.UserID)

	_, err = f.hub.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	count, err := f.hub.RecordCameraBlackWarning(ctx, "e1:u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = f.hub.RecordCameraBlackWarning(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	stats, err := f.hub.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["student_connections"])
	assert.Equal(t, 1, stats["active_sessions"])
	assert.Equal(t, 0, stats["pending_connections"])

	require.NoError(t, f.hub.EndSession(ctx, "e1:u1"))
	require.NoError(t, f.hub.EndSession(ctx, "e1:u1"), "ending twice is not an error")
	require.NoError(t, f.hub.EndSession(ctx, "never-existed"))

	sessions, err = f.hub.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	require.NoError(t, f.hub.Disconnect(peer))
	stats, err = f.hub.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats["total_connections"])
}

func TestHub_QueryHonoursContext(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.hub.Start(context.Background()))
	defer f.hub.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.hub.ListSessions(ctx)
	assert.Error(t, err)
}

func TestHub_NilPeerRejected(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.hub.Connect(nil), ErrNilPeer)
	assert.ErrorIs(t, f.hub.Receive(nil, &types.Envelope{}), ErrNilPeer)
	assert.ErrorIs(t, f.hub.Disconnect(nil), ErrNilPeer)
	assert.ErrorIs(t, f.hub.Pong(nil), ErrNilPeer)
}

func TestHub_QueueFull(t *testing.T) {
	f := newFixture(t)
	// Mark running without a loop so nothing drains the queue
	f.hub.running = true

	peer := testutil.NewFakePeer("u1")
	for i := 0; i < testConfig.EventBuffer; i++ {
		require.NoError(t, f.hub.Receive(peer, &types.Envelope{Type: types.MessageTypeHeartbeat}))
	}
	assert.ErrorIs(t, f.hub.Receive(peer, &types.Envelope{Type: types.MessageTypeHeartbeat}), ErrEventQueueFull)
	assert.ErrorIs(t, f.hub.Tick(), ErrEventQueueFull)
}

func TestHub_StopClosesPeers(t *testing.T) {
	f := newFixture(t)
	admin, _ := f.registerAdmin("a1")
	student, _ := f.registerStudent("s1", "e1", nil)
	unregistered := f.connect("late")

	require.NoError(t, f.hub.Start(context.Background()))
	require.NoError(t, f.hub.Stop())

	assert.True(t, admin.Closed())
	assert.True(t, student.Closed())
	assert.True(t, unregistered.Closed())
	assert.Empty(t, f.hub.pending)
}

func TestHub_CancellationClosesPeers(t *testing.T) {
	f := newFixture(t)
	student, _ := f.registerStudent("s1", "e1", nil)
	unregistered := f.connect("late")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.hub.Start(ctx))
	cancel()

	select {
	case <-f.hub.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on cancellation")
	}
	assert.True(t, student.Closed())
	assert.True(t, unregistered.Closed())
	require.NoError(t, f.hub.Stop())
}
