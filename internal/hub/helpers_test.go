package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"proctor/internal/alert"
	"proctor/internal/liveness"
	"proctor/internal/registry"
	"proctor/internal/router"
	"proctor/internal/session"
	"proctor/internal/testutil"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

var testConfig = Config{
	EventBuffer:    64,
	SessionGrace:   60 * time.Second,
	ConnectTimeout: 30 * time.Second,
	JournalTimeout: time.Second,
}

type memJournal struct {
	mu     sync.Mutex
	alerts []*types.Alert
}

func (j *memJournal) RecordAlert(_ context.Context, a *types.Alert) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.alerts = append(j.alerts, a)
	return nil
}

func (j *memJournal) ListAlerts(_ context.Context, _ interfaces.AlertQuery) ([]*types.Alert, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*types.Alert(nil), j.alerts...), nil
}

func (j *memJournal) HealthCheck(context.Context) error { return nil }
func (j *memJournal) Close() error                      { return nil }

func (j *memJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.alerts)
}

type fixture struct {
	t       *testing.T
	hub     *Hub
	clock   *testutil.Clock
	journal *memJournal
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithLimit(t, 1200)
}

func newFixtureWithLimit(t *testing.T, limit int) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	reg := registry.NewRegistry(clock.Now)
	live, err := liveness.NewManager(reg, liveness.Config{
		HeartbeatWindow: 30 * time.Second,
		ProbeGrace:      10 * time.Second,
	}, clock.Now, nil)
	require.NoError(t, err)

	journal := &memJournal{}
	h, err := NewHub(testConfig, Deps{
		Registry:  reg,
		Directory: session.NewDirectory(clock.Now),
		Router:    router.NewRouter(reg, nil),
		Limiter:   router.NewRateLimiter(limit, time.Minute, clock.Now),
		Alerts:    alert.NewBroadcaster(reg, clock.Now, nil),
		Liveness:  live,
		Journal:   journal,
		Now:       clock.Now,
	})
	require.NoError(t, err)
	return &fixture{t: t, hub: h, clock: clock, journal: journal}
}

// connect opens a peer and sends a register envelope through the loop handlers directly
func (f *fixture) connect(name string) *testutil.FakePeer {
	peer := testutil.NewFakePeer(name)
	f.hub.dispatch(connectEvent{peer: peer})
	return peer
}

func (f *fixture) send(peer *testutil.FakePeer, env *types.Envelope) {
	f.hub.dispatch(messageEvent{peer: peer, envelope: env})
}

func (f *fixture) registerAdmin(userID string) (*testutil.FakePeer, string) {
	f.t.Helper()
	peer := f.connect(userID)
	f.send(peer, &types.Envelope{Type: types.MessageTypeRegister, Role: types.RoleAdmin, UserID: userID, UserName: "Admin " + userID})
	return peer, f.connectionID(peer)
}

func (f *fixture) registerStudent(userID, examID string, caps *types.Capabilities) (*testutil.FakePeer, string) {
	f.t.Helper()
	peer := f.connect(userID)
	f.send(peer, &types.Envelope{
		Type:         types.MessageTypeRegister,
		Role:         types.RoleStudent,
		UserID:       userID,
		UserName:     "Student " + userID,
		ExamID:       examID,
		Capabilities: caps,
	})
	return peer, f.connectionID(peer)
}

func (f *fixture) connectionID(peer *testutil.FakePeer) string {
	f.t.Helper()
	acks := peer.MessagesOfType(types.MessageTypeRegistered)
	require.NotEmpty(f.t, acks, "%s was not registered", peer.Name)
	return acks[len(acks)-1].ConnectionID
}

func (f *fixture) tick(advance time.Duration) {
	f.clock.Advance(advance)
	f.hub.dispatch(tickEvent{})
}

func (f *fixture) heartbeat(peers ...*testutil.FakePeer) {
	for _, p := range peers {
		f.send(p, &types.Envelope{Type: types.MessageTypeHeartbeat})
	}
}

func offerEnvelope() *types.Envelope {
	return &types.Envelope{Type: types.MessageTypeOffer, Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}
}
