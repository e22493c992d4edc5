package types

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode"
)

// maxPayloadBytes bounds opaque negotiation payloads
const maxPayloadBytes = 65536

// IsValidRole reports whether role is one of the two registrable roles
func IsValidRole(role string) bool {
	return role == RoleStudent || role == RoleAdmin
}

// IsValidAlertType reports whether alertType is a recognized integrity event
func IsValidAlertType(alertType string) bool {
	switch alertType {
	case AlertTypeTabSwitch, AlertTypeCameraBlack, AlertTypeSuspicious:
		return true
	default:
		return false
	}
}

// IsValidMessageType checks if msgType is accepted from clients
// ARCHITECTURAL DISCOVERY: Outbound-only types are rejected so clients cannot
// impersonate coordinator messages
func IsValidMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeRegister,
		MessageTypeOffer,
		MessageTypeAnswer,
		MessageTypeIceCandidate,
		MessageTypeAlert,
		MessageTypeHeartbeat,
		MessageTypeExamSubmitted:
		return true
	default:
		return false
	}
}

// IsValidUserID checks a caller-supplied identifier. The coordinator does not
// check it against the user store, only that it is non-empty and safe to log.
func IsValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	for _, r := range userID {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Validate checks the capability flags
func (c *Capabilities) Validate() error {
	if c.ScreenMode == "" {
		return nil
	}
	if c.ScreenMode != ScreenModeWindow && c.ScreenMode != ScreenModeFull {
		return ErrInvalidScreenMode
	}
	return nil
}

// ValidateRegistration checks a register envelope
func (e *Envelope) ValidateRegistration() error {
	if !IsValidRole(e.Role) {
		return ErrInvalidRole
	}
	if !IsValidUserID(e.UserID) {
		return ErrInvalidUserID
	}
	if e.Capabilities != nil {
		if err := e.Capabilities.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NegotiationPayload returns the opaque payload carried by a negotiation envelope
func (e *Envelope) NegotiationPayload() json.RawMessage {
	switch e.Type {
	case MessageTypeOffer:
		return e.Offer
	case MessageTypeAnswer:
		return e.Answer
	case MessageTypeIceCandidate:
		return e.Candidate
	default:
		return nil
	}
}

// ValidateNegotiation checks that an offer/answer/candidate carries a payload of sane size
func (e *Envelope) ValidateNegotiation() error {
	payload := e.NegotiationPayload()
	if len(payload) == 0 {
		return ErrMissingPayload
	}
	if len(payload) > maxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// ParseTimestamp parses a client-supplied ISO-8601 timestamp
func ParseTimestamp(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, ErrInvalidTimestamp
	}
	return t, nil
}

// FormatTimestamp renders t the way the coordinator stamps outbound messages
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// AlertID derives the de-duplication key for an alert.
// FUNCTIONAL DISCOVERY: Same user + same millisecond means a retransmission
func AlertID(userID string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", userID, ts.UnixMilli())
}

// SessionID derives the session identifier for an exam attempt
func SessionID(examID, userID string) string {
	return examID + ":" + userID
}
