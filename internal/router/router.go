// Package router relays media negotiation envelopes between registered connections.
package router

import (
	"go.uber.org/zap"

	"proctor/internal/registry"
	"proctor/pkg/types"
)

// Delivery is one outbound message decided by a handler. The hub performs the
// send after the handler returns.
type Delivery struct {
	To      *registry.Connection
	Message *types.Envelope
}

// Router decides recipients for offers, answers and ICE candidates
// ARCHITECTURAL DISCOVERY: Pure routing logic over the registry without
// performing any I/O, so every decision is testable without a transport
type Router struct {
	registry *registry.Registry
	logger   *zap.SugaredLogger
}

// NewRouter creates a router over reg
func NewRouter(reg *registry.Registry, logger *zap.SugaredLogger) *Router {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Router{registry: reg, logger: logger}
}

// Route dispatches a negotiation envelope by type
func (r *Router) Route(from *registry.Connection, env *types.Envelope) ([]Delivery, error) {
	if from == nil {
		return nil, ErrNilSender
	}

	switch env.Type {
	case types.MessageTypeOffer:
		return r.RouteOffer(from, env)
	case types.MessageTypeAnswer:
		return r.RouteAnswer(from, env)
	case types.MessageTypeIceCandidate:
		return r.RouteIceCandidate(from, env)
	default:
		return nil, ErrUnsupportedType
	}
}

// RouteOffer forwards an offer to every admin, or to targetId when the sender names one
// FUNCTIONAL DISCOVERY: A student does not know which admin will answer, so an
// untargeted offer goes to all admins registered right now and no one else
func (r *Router) RouteOffer(from *registry.Connection, env *types.Envelope) ([]Delivery, error) {
	if err := env.ValidateNegotiation(); err != nil {
		return nil, err
	}
	if env.TargetID != "" {
		return r.toTarget(from, env)
	}
	if from.Role == types.RoleAdmin {
		return nil, ErrMissingTarget
	}
	return r.toAdmins(from, env), nil
}

// RouteAnswer forwards an answer to its single target
func (r *Router) RouteAnswer(from *registry.Connection, env *types.Envelope) ([]Delivery, error) {
	if err := env.ValidateNegotiation(); err != nil {
		return nil, err
	}
	if env.TargetID == "" {
		return nil, ErrMissingTarget
	}
	return r.toTarget(from, env)
}

// RouteIceCandidate targets like an answer when a target is given or the sender is an admin,
// and broadcasts like an offer otherwise
func (r *Router) RouteIceCandidate(from *registry.Connection, env *types.Envelope) ([]Delivery, error) {
	if err := env.ValidateNegotiation(); err != nil {
		return nil, err
	}
	if env.TargetID != "" {
		return r.toTarget(from, env)
	}
	if from.Role == types.RoleAdmin {
		return nil, ErrMissingTarget
	}
	return r.toAdmins(from, env), nil
}

func (r *Router) toTarget(from *registry.Connection, env *types.Envelope) ([]Delivery, error) {
	// Negotiation only pairs a student with an admin; a same-role target
	// (self included) is treated like a missing one
	target, exists := r.registry.Get(env.TargetID)
	if !exists || target.Role == from.Role {
		return nil, types.ErrRouteTargetMissing
	}
	return []Delivery{{To: target, Message: relay(from, env)}}, nil
}

func (r *Router) toAdmins(from *registry.Connection, env *types.Envelope) []Delivery {
	admins := r.registry.ListByRole(types.RoleAdmin)
	if len(admins) == 0 {
		r.logger.Debugw("No admins connected for negotiation envelope",
			"type", env.Type, "from", from.ID, "user_id", from.UserID)
		return nil
	}

	// One relayed envelope shared by every delivery; senders only marshal it
	msg := relay(from, env)
	deliveries := make([]Delivery, 0, len(admins))
	for _, admin := range admins {
		if admin.ID == from.ID {
			continue
		}
		deliveries = append(deliveries, Delivery{To: admin, Message: msg})
	}
	return deliveries
}

// relay builds the outbound copy stamped with the sender's identity.
// The negotiation payload is passed through byte for byte.
func relay(from *registry.Connection, env *types.Envelope) *types.Envelope {
	examID := from.ExamID
	if examID == "" {
		examID = env.ExamID
	}
	sessionID := from.SessionID
	if sessionID == "" {
		sessionID = env.SessionID
	}

	out := &types.Envelope{
		Type:         env.Type,
		ExamID:       examID,
		SessionID:    sessionID,
		FromID:       from.ID,
		FromUserID:   from.UserID,
		FromUserName: from.UserName,
		Timestamp:    env.Timestamp,
	}
	switch env.Type {
	case types.MessageTypeOffer:
		out.Offer = env.Offer
	case types.MessageTypeAnswer:
		out.Answer = env.Answer
	case types.MessageTypeIceCandidate:
		out.Candidate = env.Candidate
	}
	return out
}
