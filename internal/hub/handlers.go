package hub

import (
	"context"
	"errors"

	"proctor/internal/metrics"
	"proctor/internal/registry"
	"proctor/internal/router"
	"proctor/internal/session"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// handlerFunc handles one envelope from a registered connection and returns
// the messages to send. Sends happen after it returns.
type handlerFunc func(h *Hub, from *registry.Connection, env *types.Envelope) []router.Delivery

// handlers is keyed by inbound envelope type; register is handled before lookup
var handlers = map[string]handlerFunc{
	types.MessageTypeOffer:         (*Hub).handleNegotiation,
	types.MessageTypeAnswer:        (*Hub).handleNegotiation,
	types.MessageTypeIceCandidate:  (*Hub).handleNegotiation,
	types.MessageTypeAlert:         (*Hub).handleAlert,
	types.MessageTypeHeartbeat:     (*Hub).handleHeartbeat,
	types.MessageTypeExamSubmitted: (*Hub).handleExamSubmitted,
}

func (h *Hub) handleConnect(peer interfaces.Peer) {
	if _, registered := h.registry.LookupPeer(peer); registered {
		return
	}
	h.pending[peer] = h.now()
	h.logger.Debugw("Connection opened", "remote_addr", peer.RemoteAddr())
}

func (h *Hub) handleMessage(peer interfaces.Peer, env *types.Envelope) {
	if env == nil {
		return
	}
	metrics.EnvelopesTotal.WithLabelValues(envelopeLabel(env.Type)).Inc()

	conn, registered := h.registry.LookupPeer(peer)
	if env.Type == types.MessageTypeRegister {
		if registered {
			h.logger.Debugw("Ignoring repeated register", "connection_id", conn.ID)
			return
		}
		h.deliver(h.handleRegister(peer, env))
		return
	}

	if !registered {
		h.logger.Debugw("Dropping envelope from unregistered peer",
			"type", env.Type, "remote_addr", peer.RemoteAddr())
		metrics.DroppedTotal.WithLabelValues(metrics.DropUnregistered).Inc()
		return
	}

	// Any inbound message counts as liveness, even one dropped below
	h.liveness.Observe(conn.ID)

	if !h.limiter.Allow(conn.ID) {
		h.logger.Debugw("Rate limit exceeded", "connection_id", conn.ID, "user_id", conn.UserID)
		metrics.DroppedTotal.WithLabelValues(metrics.DropRateLimited).Inc()
		return
	}

	handle, known := handlers[env.Type]
	if !known {
		h.logger.Warnw("Dropping envelope", "connection_id", conn.ID, "type", env.Type,
			"error", types.ErrInvalidMessageType)
		metrics.DroppedTotal.WithLabelValues(metrics.DropInvalid).Inc()
		return
	}
	h.deliver(handle(h, conn, env))
}

// handleRegister admits or rejects a peer
// FUNCTIONAL DISCOVERY: A rejected peer never enters ACTIVE; it is told why and closed
func (h *Hub) handleRegister(peer interfaces.Peer, env *types.Envelope) []router.Delivery {
	err := env.ValidateRegistration()
	var conn *registry.Connection
	if err == nil {
		conn, err = h.registry.Register(env.Role, env.UserID, peer)
	}
	if err != nil {
		h.reject(peer, env, err)
		return nil
	}
	delete(h.pending, peer)

	conn.UserName = env.UserName
	conn.ExamID = env.ExamID
	metrics.RegistrationsTotal.WithLabelValues(conn.Role).Inc()
	metrics.ConnectionsCurrent.WithLabelValues(conn.Role).Inc()

	ack := &types.Envelope{Type: types.MessageTypeRegistered, ConnectionID: conn.ID}
	var deliveries []router.Delivery

	if conn.Role == types.RoleStudent && (env.ExamID != "" || env.SessionID != "") {
		deliveries = h.startStudentSession(conn, env)
		ack.SessionID = conn.SessionID
	}

	h.logger.Infow("Connection registered",
		"connection_id", conn.ID, "role", conn.Role, "user_id", conn.UserID,
		"exam_id", conn.ExamID, "session_id", conn.SessionID, "remote_addr", peer.RemoteAddr())

	return append([]router.Delivery{{To: conn, Message: ack}}, deliveries...)
}

func (h *Hub) reject(peer interfaces.Peer, env *types.Envelope, err error) {
	h.logger.Warnw("Registration rejected",
		"role", env.Role, "user_id", env.UserID, "remote_addr", peer.RemoteAddr(), "error", err)
	metrics.RejectionsTotal.WithLabelValues(rejectionLabel(err)).Inc()

	if werr := peer.WriteJSON(&types.Envelope{Type: types.MessageTypeRejected, Reason: err.Error()}); werr != nil {
		h.logger.Debugw("Failed to send rejection", "remote_addr", peer.RemoteAddr(), "error", werr)
	}
	delete(h.pending, peer)
	if cerr := peer.Close(); cerr != nil {
		h.logger.Debugw("Failed to close rejected peer", "remote_addr", peer.RemoteAddr(), "error", cerr)
	}
}

// startStudentSession creates or adopts the attempt's session and binds conn to it
func (h *Hub) startStudentSession(conn *registry.Connection, env *types.Envelope) []router.Delivery {
	req := session.StartRequest{
		SessionID: env.SessionID,
		ExamID:    env.ExamID,
		UserID:    env.UserID,
		UserName:  env.UserName,
		Exam:      env.Exam,
	}
	if env.Capabilities != nil {
		req.Capabilities = *env.Capabilities
	}

	sessionID, adopted, err := h.directory.StartSession(req)
	if err != nil {
		h.logger.Warnw("Session not started", "connection_id", conn.ID, "error", err)
		return nil
	}
	previous, err := h.directory.BindConnection(sessionID, conn.ID)
	if err != nil {
		h.logger.Warnw("Session binding failed", "connection_id", conn.ID, "session_id", sessionID, "error", err)
		return nil
	}
	conn.SessionID = sessionID

	snap, _ := h.directory.Get(sessionID)
	if conn.ExamID == "" {
		conn.ExamID = snap.ExamID
	}

	// The old student connection of an adopted session is superseded
	if previous != "" && previous != conn.ID {
		if old, exists := h.registry.Get(previous); exists {
			old.SessionID = ""
			h.logger.Infow("Closing superseded student connection",
				"connection_id", old.ID, "session_id", sessionID)
			h.terminate(old)
		}
	}

	event := types.SessionEventStarted
	if adopted {
		event = types.SessionEventReconnected
	}
	h.logger.Infow("Session bound", "session_id", sessionID, "event", event, "connection_id", conn.ID)
	return h.sessionUpdate(event, snap)
}

func (h *Hub) handleNegotiation(from *registry.Connection, env *types.Envelope) []router.Delivery {
	deliveries, err := h.router.Route(from, env)
	switch {
	case err == nil:
		return deliveries
	case errors.Is(err, types.ErrRouteTargetMissing):
		// Expected under normal churn
		h.logger.Debugw("Route target missing", "type", env.Type, "from", from.ID, "target_id", env.TargetID)
		metrics.DroppedTotal.WithLabelValues(metrics.DropNoTarget).Inc()
	default:
		h.logger.Warnw("Dropping negotiation envelope", "type", env.Type, "from", from.ID, "error", err)
		metrics.DroppedTotal.WithLabelValues(metrics.DropInvalid).Inc()
	}
	return nil
}

func (h *Hub) handleAlert(from *registry.Connection, env *types.Envelope) []router.Delivery {
	alert, err := h.alerts.Build(from, env)
	if err != nil {
		h.logger.Warnw("Dropping alert", "connection_id", from.ID, "alert_type", env.AlertType, "error", err)
		metrics.DroppedTotal.WithLabelValues(metrics.DropInvalid).Inc()
		return nil
	}

	if alert.Type == types.AlertTypeCameraBlack && from.SessionID != "" {
		if count, err := h.directory.RecordCameraBlackWarning(from.SessionID); err == nil {
			alert.Data["warningCount"] = count
		}
	}

	metrics.AlertsTotal.WithLabelValues(alert.Type).Inc()
	h.journalAlert(alert)
	return h.alerts.Fanout(from, alert)
}

func (h *Hub) handleHeartbeat(_ *registry.Connection, _ *types.Envelope) []router.Delivery {
	return nil
}

func (h *Hub) handleExamSubmitted(from *registry.Connection, _ *types.Envelope) []router.Delivery {
	if from.Role == types.RoleStudent && from.SessionID != "" {
		h.endSession(from.SessionID, metrics.EndSubmitted)
	}
	return nil
}

// endSession removes a session and notifies admins. Ending an unknown session does nothing.
func (h *Hub) endSession(sessionID, cause string) {
	snap, ended := h.directory.EndSession(sessionID)
	if !ended {
		return
	}
	if snap.StudentConnectionID != nil {
		if conn, exists := h.registry.Get(*snap.StudentConnectionID); exists && conn.SessionID == sessionID {
			conn.SessionID = ""
		}
	}
	metrics.SessionsEndedTotal.WithLabelValues(cause).Inc()
	h.logger.Infow("Session ended", "session_id", sessionID, "cause", cause)

	h.deliver(h.sessionUpdate(types.SessionEventEnded, snap))
}

func (h *Hub) handleDisconnect(peer interfaces.Peer) {
	delete(h.pending, peer)
	conn, registered := h.registry.LookupPeer(peer)
	if !registered {
		return
	}
	h.logger.Infow("Connection closed", "connection_id", conn.ID, "user_id", conn.UserID, "role", conn.Role)
	h.registry.Unregister(conn.ID)
}

func (h *Hub) handlePong(peer interfaces.Peer) {
	if conn, registered := h.registry.LookupPeer(peer); registered {
		h.liveness.Observe(conn.ID)
	}
}

// handleTick advances liveness, closes idle unregistered peers and reaps orphaned sessions
func (h *Hub) handleTick() {
	result := h.liveness.Sweep()
	metrics.LivenessProbesTotal.Add(float64(len(result.Probed)))
	for _, conn := range result.Terminated {
		metrics.LivenessTerminationsTotal.Inc()
		if err := conn.Peer.Close(); err != nil {
			h.logger.Debugw("Failed to close terminated peer", "connection_id", conn.ID, "error", err)
		}
	}

	now := h.now()
	for peer, since := range h.pending {
		if now.Sub(since) >= h.config.ConnectTimeout {
			h.logger.Infow("Closing peer that never registered", "remote_addr", peer.RemoteAddr())
			delete(h.pending, peer)
			_ = peer.Close()
		}
	}

	for _, snap := range h.directory.ReapOrphaned(h.config.SessionGrace) {
		metrics.SessionsEndedTotal.WithLabelValues(metrics.EndReaped).Inc()
		h.logger.Infow("Session reaped after grace window", "session_id", snap.ID, "user_id", snap.UserID)
		h.deliver(h.sessionUpdate(types.SessionEventEnded, snap))
	}

	h.limiter.Cleanup()

	stats := h.directory.GetStats()
	metrics.SessionsActive.Set(float64(stats["active_sessions"]))
	metrics.SessionsOrphaned.Set(float64(stats["orphaned_sessions"]))
}

// onConnectionRemoved runs inside Registry.Unregister for every removal path
func (h *Hub) onConnectionRemoved(conn *registry.Connection) {
	h.limiter.Forget(conn.ID)
	metrics.ConnectionsCurrent.WithLabelValues(conn.Role).Dec()
	metrics.ConnectionDuration.WithLabelValues(conn.Role).Observe(h.now().Sub(conn.ConnectedAt).Seconds())

	sessionID, unbound := h.directory.OnConnectionRemoved(conn.ID)
	if !unbound {
		return
	}
	if snap, exists := h.directory.Get(sessionID); exists {
		h.deliver(h.sessionUpdate(types.SessionEventDisconnected, snap))
	}
}

// terminate unregisters a connection and closes its channel
func (h *Hub) terminate(conn *registry.Connection) {
	h.registry.Unregister(conn.ID)
	if err := conn.Peer.Close(); err != nil {
		h.logger.Debugw("Failed to close peer", "connection_id", conn.ID, "error", err)
	}
}

func (h *Hub) sessionUpdate(event string, snap types.SessionSnapshot) []router.Delivery {
	admins := h.registry.ListByRole(types.RoleAdmin)
	if len(admins) == 0 {
		return nil
	}
	msg := &types.Envelope{
		Type:      types.MessageTypeSessionUpdate,
		Event:     event,
		Session:   &snap,
		Timestamp: types.FormatTimestamp(h.now()),
	}
	deliveries := make([]router.Delivery, 0, len(admins))
	for _, admin := range admins {
		deliveries = append(deliveries, router.Delivery{To: admin, Message: msg})
	}
	return deliveries
}

// deliver hands each message to its peer's writer
// TECHNICAL DISCOVERY: Sends are fire-and-forget; a failed send is logged and
// never rolls back state already committed by the handler
func (h *Hub) deliver(deliveries []router.Delivery) {
	for _, d := range deliveries {
		if err := d.To.Peer.WriteJSON(d.Message); err != nil {
			h.logger.Warnw("Delivery failed",
				"connection_id", d.To.ID, "type", d.Message.Type, "error", err)
			metrics.DroppedTotal.WithLabelValues(metrics.DropSendFailed).Inc()
			continue
		}
		metrics.DeliveriesTotal.WithLabelValues(d.Message.Type).Inc()
	}
}

// journalAlert hands the alert to the journal without waiting for it
func (h *Hub) journalAlert(alert *types.Alert) {
	if h.journal == nil {
		return
	}
	h.journalWG.Add(1)
	go func() {
		defer h.journalWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.config.JournalTimeout)
		defer cancel()

		if err := h.journal.RecordAlert(ctx, alert); err != nil {
			h.logger.Warnw("Alert journal write failed", "alert_id", alert.ID, "error", err)
			metrics.JournalWritesTotal.WithLabelValues("error").Inc()
			return
		}
		metrics.JournalWritesTotal.WithLabelValues("ok").Inc()
	}()
}

func envelopeLabel(msgType string) string {
	if types.IsValidMessageType(msgType) {
		return msgType
	}
	return "unknown"
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidRole):
		return "invalid_role"
	case errors.Is(err, types.ErrInvalidUserID):
		return "invalid_user_id"
	case errors.Is(err, types.ErrInvalidScreenMode):
		return "invalid_capabilities"
	default:
		return "other"
	}
}
