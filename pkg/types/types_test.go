package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidRole(t *testing.T) {
	assert.True(t, IsValidRole(RoleStudent))
	assert.True(t, IsValidRole(RoleAdmin))
	assert.False(t, IsValidRole("instructor"))
	assert.False(t, IsValidRole(""))
}

func TestIsValidAlertType(t *testing.T) {
	for _, at := range []string{AlertTypeTabSwitch, AlertTypeCameraBlack, AlertTypeSuspicious} {
		assert.True(t, IsValidAlertType(at), at)
	}
	assert.False(t, IsValidAlertType("screenshot"))
	assert.False(t, IsValidAlertType(""))
}

func TestIsValidMessageType_RejectsOutboundTypes(t *testing.T) {
	assert.True(t, IsValidMessageType(MessageTypeOffer))
	assert.True(t, IsValidMessageType(MessageTypeHeartbeat))
	assert.False(t, IsValidMessageType(MessageTypeRegistered))
	assert.False(t, IsValidMessageType(MessageTypeSessionUpdate))
	assert.False(t, IsValidMessageType("chat"))
}

func TestIsValidUserID(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		wantOk bool
	}{
		{"simple", "u1", true},
		{"email-like", "student@school.edu", true},
		{"mongo id", "64f1a2b3c4d5e6f708192a3b", true},
		{"128 chars", strings.Repeat("a", 128), true},
		{"empty", "", false},
		{"4096 chars", strings.Repeat("a", 4096), true},
		{"control char", "u1\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantOk, IsValidUserID(tt.userID))
		})
	}
}

func TestEnvelope_ValidateRegistration(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr error
	}{
		{"student", Envelope{Type: MessageTypeRegister, Role: RoleStudent, UserID: "u1", ExamID: "e1"}, nil},
		{"admin", Envelope{Type: MessageTypeRegister, Role: RoleAdmin, UserID: "a1"}, nil},
		{"bad role", Envelope{Type: MessageTypeRegister, Role: "proctor", UserID: "a1"}, ErrInvalidRole},
		{"missing role", Envelope{Type: MessageTypeRegister, UserID: "a1"}, ErrInvalidRole},
		{"missing user", Envelope{Type: MessageTypeRegister, Role: RoleAdmin}, ErrInvalidUserID},
		{
			"bad screen mode",
			Envelope{Type: MessageTypeRegister, Role: RoleStudent, UserID: "u1", Capabilities: &Capabilities{Screen: true, ScreenMode: "monitor"}},
			ErrInvalidScreenMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.env.ValidateRegistration(), tt.wantErr)
		})
	}
}

func TestEnvelope_ValidateNegotiation(t *testing.T) {
	offer := Envelope{Type: MessageTypeOffer, Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`)}
	assert.NoError(t, offer.ValidateNegotiation())

	// Payload for a different type does not count
	wrongField := Envelope{Type: MessageTypeAnswer, Offer: json.RawMessage(`{"sdp":"v=0"}`)}
	assert.ErrorIs(t, wrongField.ValidateNegotiation(), ErrMissingPayload)

	big := Envelope{Type: MessageTypeIceCandidate, Candidate: json.RawMessage(`"` + strings.Repeat("x", maxPayloadBytes) + `"`)}
	assert.ErrorIs(t, big.ValidateNegotiation(), ErrPayloadTooLarge)
}

func TestEnvelope_PayloadPassesThroughUntouched(t *testing.T) {
	raw := `{"type":"webrtc-offer","userId":"u1","offer":{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1"}}`

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(raw), &env))

	out, err := json.Marshal(&Envelope{Type: env.Type, Offer: env.Offer})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"offer":{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1"}`)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())

	ts, err = ParseTimestamp("2024-05-01T10:00:00.123+02:00")
	require.NoError(t, err)
	assert.Equal(t, 123, ts.Nanosecond()/int(time.Millisecond))

	_, err = ParseTimestamp("yesterday")
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestAlertID_Deterministic(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)

	assert.Equal(t, AlertID("u1", ts), AlertID("u1", ts.Add(100*time.Microsecond)))
	assert.NotEqual(t, AlertID("u1", ts), AlertID("u1", ts.Add(time.Millisecond)))
	assert.NotEqual(t, AlertID("u1", ts), AlertID("u2", ts))
	assert.Equal(t, "u1-1714557600123", AlertID("u1", ts))
}

func TestSessionID(t *testing.T) {
	assert.Equal(t, "e1:u1", SessionID("e1", "u1"))
}
