// Package alert validates integrity events from exam-taking clients and fans them out to admins.
package alert

import (
	"time"

	"go.uber.org/zap"

	"proctor/internal/registry"
	"proctor/internal/router"
	"proctor/pkg/types"
)

// Broadcaster turns raw alert envelopes into Alerts and admin deliveries
// ARCHITECTURAL DISCOVERY: Stateless by construction; no alert is buffered
// or deduplicated here, the derived alertId lets consumers collapse repeats
type Broadcaster struct {
	registry *registry.Registry
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// NewBroadcaster creates a broadcaster over reg. A nil clock uses time.Now.
func NewBroadcaster(reg *registry.Registry, now func() time.Time, logger *zap.SugaredLogger) *Broadcaster {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Broadcaster{registry: reg, now: now, logger: logger}
}

// Submit validates the envelope and returns the alert with one delivery per admin
func (b *Broadcaster) Submit(from *registry.Connection, env *types.Envelope) (*types.Alert, []router.Delivery, error) {
	alert, err := b.Build(from, env)
	if err != nil {
		return nil, nil, err
	}
	return alert, b.Fanout(from, alert), nil
}

// Build validates the envelope and stamps the alert
// FUNCTIONAL DISCOVERY: A client timestamp is kept when it parses, otherwise
// the coordinator clock is used; client clocks are never used for ordering
func (b *Broadcaster) Build(from *registry.Connection, env *types.Envelope) (*types.Alert, error) {
	if from == nil {
		return nil, ErrNilSender
	}
	if from.Role != types.RoleStudent {
		return nil, ErrUnauthorizedSender
	}
	if !types.IsValidAlertType(env.AlertType) {
		return nil, types.ErrUnknownAlertType
	}

	ts := b.now()
	if env.Timestamp != "" {
		if parsed, err := types.ParseTimestamp(env.Timestamp); err == nil {
			ts = parsed
		} else {
			b.logger.Debugw("Replacing unparseable alert timestamp",
				"connection_id", from.ID, "timestamp", env.Timestamp)
		}
	}

	examID := from.ExamID
	if examID == "" {
		examID = env.ExamID
	}
	userName := from.UserName
	if userName == "" {
		userName = env.UserName
	}

	data := make(map[string]interface{}, len(env.Data)+1)
	for k, v := range env.Data {
		data[k] = v
	}

	return &types.Alert{
		ID:        types.AlertID(from.UserID, ts),
		Type:      env.AlertType,
		ExamID:    examID,
		UserID:    from.UserID,
		UserName:  userName,
		Timestamp: ts.UTC(),
		Data:      data,
	}, nil
}

// Fanout addresses the alert to every admin registered right now
func (b *Broadcaster) Fanout(from *registry.Connection, alert *types.Alert) []router.Delivery {
	admins := b.registry.ListByRole(types.RoleAdmin)
	if len(admins) == 0 {
		return nil
	}

	msg := &types.Envelope{
		Type:      types.MessageTypeAlert,
		AlertID:   alert.ID,
		AlertType: alert.Type,
		ExamID:    alert.ExamID,
		UserID:    alert.UserID,
		UserName:  alert.UserName,
		Timestamp: types.FormatTimestamp(alert.Timestamp),
		Data:      alert.Data,
	}
	if from != nil {
		msg.FromID = from.ID
		msg.SessionID = from.SessionID
	}

	deliveries := make([]router.Delivery, 0, len(admins))
	for _, admin := range admins {
		deliveries = append(deliveries, router.Delivery{To: admin, Message: msg})
	}
	return deliveries
}
