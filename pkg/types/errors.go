package types

import "errors"

// Coordinator error taxonomy. None of these crash the process; the hub
// handles each locally.
var (
	ErrInvalidRole        = errors.New("invalid role: must be 'student' or 'admin'")
	ErrUnknownAlertType   = errors.New("unknown alert type")
	ErrRouteTargetMissing = errors.New("route target missing")
	ErrLivenessTimeout    = errors.New("liveness timeout")
)

// ARCHITECTURAL DISCOVERY: Envelope validation errors are distinct from the taxonomy
// above so callers can tell malformed input from routing outcomes
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-128 characters without control characters")
	ErrInvalidMessageType = errors.New("invalid message type")
	ErrInvalidScreenMode  = errors.New("screen mode must be 'window' or 'full'")
	ErrMissingPayload     = errors.New("negotiation envelope missing payload")
	ErrPayloadTooLarge    = errors.New("negotiation payload exceeds 64KB limit")
	ErrInvalidTimestamp   = errors.New("timestamp must be ISO-8601")
)
