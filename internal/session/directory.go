// Package session maps in-progress exam attempts to the student connection
// currently representing them.
package session

import (
	"sort"
	"time"

	"proctor/pkg/types"
)

// Session is one monitored exam attempt
type Session struct {
	ID                  string
	ExamID              string
	UserID              string
	UserName            string
	StudentConnectionID string // empty while the student is disconnected
	Capabilities        types.Capabilities
	Exam                *types.ExamInfo
	CameraBlackWarnings int
	StartedAt           time.Time
	UnboundAt           time.Time // when StudentConnectionID was last cleared
}

// StartRequest carries what a student registration knows about its attempt
type StartRequest struct {
	SessionID    string // optional explicit ID assigned by the exam-taking flow
	ExamID       string
	UserID       string
	UserName     string
	Capabilities types.Capabilities
	Exam         *types.ExamInfo
}

// Directory implements the session directory
// ARCHITECTURAL DISCOVERY: Like the registry, the directory is owned by the hub
// event loop and holds no locks
type Directory struct {
	sessions     map[string]*Session // sessionID -> Session
	byAttempt    map[string]string   // examID:userID -> sessionID
	byConnection map[string]string   // connectionID -> sessionID
	now          func() time.Time
}

// NewDirectory creates an empty directory. A nil clock uses time.Now.
func NewDirectory(now func() time.Time) *Directory {
	if now == nil {
		now = time.Now
	}
	return &Directory{
		sessions:     make(map[string]*Session),
		byAttempt:    make(map[string]string),
		byConnection: make(map[string]string),
		now:          now,
	}
}

// StartSession creates a session or adopts the existing one for the same attempt.
// FUNCTIONAL DISCOVERY: Adoption keeps capabilities, warning count and start time;
// a student reconnecting mid-exam must not lose monitoring history
func (d *Directory) StartSession(req StartRequest) (string, bool, error) {
	if req.SessionID == "" && (req.ExamID == "" || req.UserID == "") {
		return "", false, ErrMissingExamContext
	}

	if existing := d.find(req); existing != nil {
		if req.UserName != "" {
			existing.UserName = req.UserName
		}
		if req.Exam != nil {
			existing.Exam = req.Exam
		}
		return existing.ID, true, nil
	}

	id := req.SessionID
	if id == "" {
		id = types.SessionID(req.ExamID, req.UserID)
	}

	now := d.now()
	s := &Session{
		ID:           id,
		ExamID:       req.ExamID,
		UserID:       req.UserID,
		UserName:     req.UserName,
		Capabilities: req.Capabilities,
		Exam:         req.Exam,
		StartedAt:    now,
		UnboundAt:    now,
	}
	d.sessions[id] = s
	if req.ExamID != "" && req.UserID != "" {
		d.byAttempt[types.SessionID(req.ExamID, req.UserID)] = id
	}
	return id, false, nil
}

func (d *Directory) find(req StartRequest) *Session {
	if req.SessionID != "" {
		if s, ok := d.sessions[req.SessionID]; ok {
			return s
		}
	}
	if req.ExamID != "" && req.UserID != "" {
		if id, ok := d.byAttempt[types.SessionID(req.ExamID, req.UserID)]; ok {
			return d.sessions[id]
		}
	}
	return nil
}

// BindConnection makes connectionID the session's student connection.
// Returns the connection it superseded, if any.
func (d *Directory) BindConnection(sessionID, connectionID string) (string, error) {
	if connectionID == "" {
		return "", ErrEmptyConnectionID
	}
	s, ok := d.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}

	previous := s.StudentConnectionID
	if previous == connectionID {
		return "", nil
	}
	if previous != "" {
		delete(d.byConnection, previous)
	}

	s.StudentConnectionID = connectionID
	s.UnboundAt = time.Time{}
	d.byConnection[connectionID] = sessionID
	return previous, nil
}

// RecordCameraBlackWarning increments the warning counter and returns the new value
func (d *Directory) RecordCameraBlackWarning(sessionID string) (int, error) {
	s, ok := d.sessions[sessionID]
	if !ok {
		return 0, ErrSessionNotFound
	}
	s.CameraBlackWarnings++
	return s.CameraBlackWarnings, nil
}

// EndSession removes a session. Ending an unknown session is a no-op, since
// exam finalization can race with disconnect cleanup.
func (d *Directory) EndSession(sessionID string) (types.SessionSnapshot, bool) {
	s, ok := d.sessions[sessionID]
	if !ok {
		return types.SessionSnapshot{}, false
	}

	snapshot := s.snapshot()
	delete(d.sessions, sessionID)
	if s.StudentConnectionID != "" {
		delete(d.byConnection, s.StudentConnectionID)
	}
	if key := types.SessionID(s.ExamID, s.UserID); d.byAttempt[key] == sessionID {
		delete(d.byAttempt, key)
	}
	return snapshot, true
}

// OnConnectionRemoved clears the binding of the session this connection
// represented. The session itself is kept for the reconnection grace window.
func (d *Directory) OnConnectionRemoved(connectionID string) (string, bool) {
	sessionID, ok := d.byConnection[connectionID]
	if !ok {
		return "", false
	}
	delete(d.byConnection, connectionID)

	s, exists := d.sessions[sessionID]
	if !exists || s.StudentConnectionID != connectionID {
		return "", false
	}
	s.StudentConnectionID = ""
	s.UnboundAt = d.now()
	return sessionID, true
}

// ReapOrphaned ends every session whose binding has stayed empty for at least grace
func (d *Directory) ReapOrphaned(grace time.Duration) []types.SessionSnapshot {
	now := d.now()

	var expired []string
	for id, s := range d.sessions {
		if s.StudentConnectionID == "" && now.Sub(s.UnboundAt) >= grace {
			expired = append(expired, id)
		}
	}
	sort.Strings(expired)

	ended := make([]types.SessionSnapshot, 0, len(expired))
	for _, id := range expired {
		if snapshot, ok := d.EndSession(id); ok {
			ended = append(ended, snapshot)
		}
	}
	return ended
}

// SessionForConnection returns the session a student connection is bound to
func (d *Directory) SessionForConnection(connectionID string) (string, bool) {
	id, ok := d.byConnection[connectionID]
	return id, ok
}

// Get returns a snapshot of one session
func (d *Directory) Get(sessionID string) (types.SessionSnapshot, bool) {
	s, ok := d.sessions[sessionID]
	if !ok {
		return types.SessionSnapshot{}, false
	}
	return s.snapshot(), true
}

// List returns snapshots of all sessions, oldest first
func (d *Directory) List() []types.SessionSnapshot {
	list := make([]types.SessionSnapshot, 0, len(d.sessions))
	for _, s := range d.sessions {
		list = append(list, s.snapshot())
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
	return list
}

// GetStats returns directory statistics
func (d *Directory) GetStats() map[string]int {
	orphaned := 0
	for _, s := range d.sessions {
		if s.StudentConnectionID == "" {
			orphaned++
		}
	}
	return map[string]int{
		"active_sessions":   len(d.sessions),
		"orphaned_sessions": orphaned,
	}
}

func (s *Session) snapshot() types.SessionSnapshot {
	snap := types.SessionSnapshot{
		ID:                  s.ID,
		ExamID:              s.ExamID,
		UserID:              s.UserID,
		UserName:            s.UserName,
		Capabilities:        s.Capabilities,
		CameraBlackWarnings: s.CameraBlackWarnings,
		StartedAt:           s.StartedAt,
	}
	if s.StudentConnectionID != "" {
		id := s.StudentConnectionID
		snap.StudentConnectionID = &id
	} else {
		unbound := s.UnboundAt
		snap.DisconnectedAt = &unbound
	}
	if s.Exam != nil {
		exam := *s.Exam
		snap.Exam = &exam
	}
	return snap
}
