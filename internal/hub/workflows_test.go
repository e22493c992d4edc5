package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proctor/internal/testutil"
	"proctor/pkg/types"
)

// A student registration starts a session with its capabilities
func TestWorkflow_StudentRegistrationStartsSession(t *testing.T) {
	f := newFixture(t)
	admin, _ := f.registerAdmin("a1")

	student, connID := f.registerStudent("u1", "e1", &types.Capabilities{Camera: true, Audio: false, Screen: false})

	ack := student.MessagesOfType(types.MessageTypeRegistered)
	require.Len(t, ack, 1)
	assert.Equal(t, "e1:u1", ack[0].SessionID)

	sessions := f.hub.directory.List()
	require.Len(t, sessions, 1)
	assert.Equal(t, types.Capabilities{Camera: true}, sessions[0].Capabilities)
	assert.Equal(t, 0, sessions[0].CameraBlackWarnings)
	require.NotNil(t, sessions[0].StudentConnectionID)
	assert.Equal(t, connID, *sessions[0].StudentConnectionID)

	updates := admin.MessagesOfType(types.MessageTypeSessionUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, types.SessionEventStarted, updates[0].Event)
	assert.Equal(t, "e1:u1", updates[0].Session.ID)
}

// Offer fan-out to both admins, answer back to the student only
func TestWorkflow_OfferAnswerExchange(t *testing.T) {
	f := newFixture(t)
	a1, _ := f.registerAdmin("a1")
	a2, _ := f.registerAdmin("a2")
	student, studentID := f.registerStudent("u1", "e1", &types.Capabilities{Camera: true})

	f.send(student, offerEnvelope())

	for _, peer := range []*testutil.FakePeer{a1, a2} {
		offers := peer.MessagesOfType(types.MessageTypeOffer)
		require.Len(t, offers, 1)
		assert.Equal(t, "u1", offers[0].FromUserID)
		assert.Equal(t, studentID, offers[0].FromID)
		assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offers[0].Offer))
	}

	a2Before := len(a2.Messages())
	f.send(a1, &types.Envelope{
		Type:     types.MessageTypeAnswer,
		TargetID: offersFrom(t, a1)[0].FromID,
		Answer:   json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	})

	answers := student.MessagesOfType(types.MessageTypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "a1", answers[0].FromUserID)
	assert.Len(t, a2.Messages(), a2Before, "a2 receives nothing further")
	assert.Empty(t, a1.MessagesOfType(types.MessageTypeAnswer))
}

func offersFrom(t *testing.T, peer *testutil.FakePeer) []*types.Envelope {
	t.Helper()
	offers := peer.MessagesOfType(types.MessageTypeOffer)
	require.NotEmpty(t, offers)
	return offers
}

// Alerts reach every admin with their data intact
func TestWorkflow_AlertFanout(t *testing.T) {
	f := newFixture(t)
	a1, _ := f.registerAdmin("a1")
	a2, _ := f.registerAdmin("a2")
	student, _ := f.registerStudent("u1", "e1", nil)

	f.send(student, &types.Envelope{
		Type:      types.MessageTypeAlert,
		AlertType: types.AlertTypeTabSwitch,
		Data:      map[string]interface{}{"hidden": true, "switchCount": 3},
	})

	for _, admin := range []*testutil.FakePeer{a1, a2} {
		alerts := admin.MessagesOfType(types.MessageTypeAlert)
		require.Len(t, alerts, 1)
		assert.Equal(t, types.AlertTypeTabSwitch, alerts[0].AlertType)
		assert.EqualValues(t, 3, alerts[0].Data["switchCount"])
		assert.Equal(t, "u1", alerts[0].UserID)
		assert.Equal(t, "e1", alerts[0].ExamID)
		assert.Equal(t, types.AlertID("u1", f.clock.Now()), alerts[0].AlertID)
	}
	assert.Empty(t, student.MessagesOfType(types.MessageTypeAlert))

	require.Eventually(t, func() bool { return f.journal.count() == 1 }, time.Second, 5*time.Millisecond)
}

// A silent student is probed, terminated, unbound and finally reaped
func TestWorkflow_SilentStudentIsReaped(t *testing.T) {
	f := newFixture(t)
	admin, _ := f.registerAdmin("a1")
	student, _ := f.registerStudent("u1", "e1", &types.Capabilities{Camera: true})
	sessionID := types.SessionID("e1", "u1")

	f.tick(30 * time.Second)
	f.heartbeat(admin)
	assert.Equal(t, 1, student.Pings(), "silent student is probed")
	assert.Equal(t, types.StateStale, f.hub.registry.ListByRole(types.RoleStudent)[0].State)

	f.tick(10 * time.Second)
	f.heartbeat(admin)
	assert.True(t, student.Closed())
	assert.Empty(t, f.hub.registry.ListByRole(types.RoleStudent))

	snap, ok := f.hub.directory.Get(sessionID)
	require.True(t, ok, "session survives the termination")
	assert.Nil(t, snap.StudentConnectionID)

	updates := admin.MessagesOfType(types.MessageTypeSessionUpdate)
	require.NotEmpty(t, updates)
	assert.Equal(t, types.SessionEventDisconnected, updates[len(updates)-1].Event)

	f.tick(30 * time.Second)
	f.heartbeat(admin)
	_, ok = f.hub.directory.Get(sessionID)
	assert.True(t, ok, "still inside the grace window")

	f.tick(30 * time.Second)
	_, ok = f.hub.directory.Get(sessionID)
	assert.False(t, ok)

	updates = admin.MessagesOfType(types.MessageTypeSessionUpdate)
	assert.Equal(t, types.SessionEventEnded, updates[len(updates)-1].Event)
	assert.False(t, admin.Closed())
}
