package types

import (
	"encoding/json"
	"time"
)

// Roles a connection can register with
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// ARCHITECTURAL DISCOVERY: Message type constants are the wire contract shared by
// exam-taking clients, admin monitoring clients and the coordinator
const (
	MessageTypeRegister      = "register"
	MessageTypeOffer         = "webrtc-offer"
	MessageTypeAnswer        = "webrtc-answer"
	MessageTypeIceCandidate  = "webrtc-ice-candidate"
	MessageTypeAlert         = "alert"
	MessageTypeHeartbeat     = "heartbeat"
	MessageTypeExamSubmitted = "exam-submitted"

	// Outbound only
	MessageTypeRegistered    = "registered"
	MessageTypeRejected      = "rejected"
	MessageTypeSessionUpdate = "session-update"
)

// Alert types raised by the exam-taking client
const (
	AlertTypeTabSwitch   = "tab-switch"
	AlertTypeCameraBlack = "camera-black"
	AlertTypeSuspicious  = "suspicious"
)

// Screen share modes
const (
	ScreenModeWindow = "window"
	ScreenModeFull   = "full"
)

// Session update events pushed to admins
const (
	SessionEventStarted      = "started"
	SessionEventReconnected  = "reconnected"
	SessionEventDisconnected = "disconnected"
	SessionEventEnded        = "ended"
)

// ConnectionState is the liveness state of a registered connection.
// Peers that have not registered yet are tracked by the hub, not the registry.
type ConnectionState string

const (
	StateActive     ConnectionState = "active"
	StateStale      ConnectionState = "stale"
	StateTerminated ConnectionState = "terminated"
)

// Capabilities describes which media the student client publishes.
// Set once when the session starts.
type Capabilities struct {
	Camera     bool   `json:"camera"`
	Audio      bool   `json:"audio"`
	Screen     bool   `json:"screen"`
	ScreenMode string `json:"screenMode,omitempty"`
}

// ExamInfo is exam metadata supplied by the exam store. The coordinator
// passes it through to session snapshots without validating it.
type ExamInfo struct {
	Title         string  `json:"title,omitempty"`
	QuestionCount int     `json:"questionCount,omitempty"`
	TotalPoints   float64 `json:"totalPoints,omitempty"`
}

// Envelope is the transport-agnostic message exchanged over the real-time channel.
// FUNCTIONAL DISCOVERY: offer/answer/candidate stay as raw JSON so the coordinator
// never has to understand the media negotiation protocol
type Envelope struct {
	Type         string                 `json:"type"`
	Role         string                 `json:"role,omitempty"`
	UserID       string                 `json:"userId,omitempty"`
	UserName     string                 `json:"userName,omitempty"`
	ExamID       string                 `json:"examId,omitempty"`
	SessionID    string                 `json:"sessionId,omitempty"`
	TargetID     string                 `json:"targetId,omitempty"`
	Offer        json.RawMessage        `json:"offer,omitempty"`
	Answer       json.RawMessage        `json:"answer,omitempty"`
	Candidate    json.RawMessage        `json:"candidate,omitempty"`
	AlertType    string                 `json:"alertType,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    string                 `json:"timestamp,omitempty"`
	Capabilities *Capabilities          `json:"capabilities,omitempty"`
	Exam         *ExamInfo              `json:"exam,omitempty"`

	// Set by the coordinator on relayed and generated messages
	FromID       string           `json:"fromId,omitempty"`
	FromUserID   string           `json:"fromUserId,omitempty"`
	FromUserName string           `json:"fromUserName,omitempty"`
	ConnectionID string           `json:"connectionId,omitempty"`
	AlertID      string           `json:"alertId,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	Event        string           `json:"event,omitempty"`
	Session      *SessionSnapshot `json:"session,omitempty"`
}

// Alert is an integrity event. It is built on receipt, fanned out and discarded.
type Alert struct {
	ID        string                 `json:"alertId"`
	Type      string                 `json:"alertType"`
	ExamID    string                 `json:"examId"`
	UserID    string                 `json:"userId"`
	UserName  string                 `json:"userName"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// SessionSnapshot is the read-only view of a proctoring session handed to admins
type SessionSnapshot struct {
	ID                  string       `json:"sessionId"`
	ExamID              string       `json:"examId"`
	UserID              string       `json:"userId"`
	UserName            string       `json:"userName,omitempty"`
	StudentConnectionID *string      `json:"studentConnectionId"`
	Capabilities        Capabilities `json:"capabilities"`
	Exam                *ExamInfo    `json:"exam,omitempty"`
	CameraBlackWarnings int          `json:"cameraBlackWarnings"`
	StartedAt           time.Time    `json:"startedAt"`
	DisconnectedAt      *time.Time   `json:"disconnectedAt,omitempty"`
}
