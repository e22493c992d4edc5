// Package api is the admin monitoring HTTP surface: session snapshots, the
// external end-session and camera-black hooks, journal queries and stats.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

const maxAlertLimit = 1000

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	coordinator interfaces.Coordinator
	journal     interfaces.AlertJournal // nil when the journal is disabled
	router      *mux.Router
	logger      *zap.SugaredLogger
	now         func() time.Time
}

// NewServer wires routes over coordinator. journal may be nil.
func NewServer(coordinator interfaces.Coordinator, journal interfaces.AlertJournal, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		coordinator: coordinator,
		journal:     journal,
		router:      mux.NewRouter(),
		logger:      logger,
		now:         time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.jsonMiddleware)
	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.endSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/camera-black", s.recordCameraBlack).Methods(http.MethodPost)
	api.HandleFunc("/alerts", s.listAlerts).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
}

// Handle mounts an extra handler such as the websocket endpoint or /metrics
func (s *Server) Handle(path string, handler http.Handler) {
	s.router.Handle(path, handler)
}

// ServeHTTP implements http.Handler
// FUNCTIONAL DISCOVERY: CORS runs ahead of the router so preflight requests are
// answered for any path and unmatched paths still get the router's 404/405
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.router.ServeHTTP(w, r)
}

type ListSessionsResponse struct {
	Sessions []types.SessionSnapshot `json:"sessions"`
	Count    int                     `json:"count"`
}

type SessionResponse struct {
	Session *types.SessionSnapshot `json:"session"`
}

type CameraBlackResponse struct {
	SessionID    string `json:"sessionId"`
	WarningCount int    `json:"warningCount"`
}

type ListAlertsResponse struct {
	Alerts []*types.Alert `json:"alerts"`
	Count  int            `json:"count"`
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Journal   string         `json:"journal"`
	Stats     map[string]int `json:"stats,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/sessions
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.coordinator.ListSessions(r.Context())
	if err != nil {
		s.sendCoordinatorError(w, err, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []types.SessionSnapshot{}
	}
	s.sendJSON(w, http.StatusOK, ListSessionsResponse{Sessions: sessions, Count: len(sessions)})
}

// GET /api/sessions/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	snap, err := s.coordinator.GetSession(r.Context(), sessionID)
	if err != nil {
		s.sendCoordinatorError(w, err, "Failed to get session")
		return
	}
	s.sendJSON(w, http.StatusOK, SessionResponse{Session: snap})
}

// DELETE /api/sessions/{id}
// FUNCTIONAL DISCOVERY: Ending an unknown or already ended session still succeeds
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if err := s.coordinator.EndSession(r.Context(), sessionID); err != nil {
		s.sendCoordinatorError(w, err, "Failed to end session")
		return
	}
	s.logger.Infow("Session ended by API", "session_id", sessionID)
	s.sendJSON(w, http.StatusOK, map[string]string{"message": "Session ended", "sessionId": sessionID})
}

// POST /api/sessions/{id}/camera-black
func (s *Server) recordCameraBlack(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	count, err := s.coordinator.RecordCameraBlackWarning(r.Context(), sessionID)
	if err != nil {
		s.sendCoordinatorError(w, err, "Failed to record warning")
		return
	}
	s.sendJSON(w, http.StatusOK, CameraBlackResponse{SessionID: sessionID, WarningCount: count})
}

// GET /api/alerts?exam_id=&user_id=&limit=
func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.sendError(w, "Alert journal is disabled", http.StatusNotFound)
		return
	}

	query := interfaces.AlertQuery{
		ExamID: r.URL.Query().Get("exam_id"),
		UserID: r.URL.Query().Get("user_id"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxAlertLimit {
			s.sendError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		query.Limit = limit
	}

	alerts, err := s.journal.ListAlerts(r.Context(), query)
	if err != nil {
		s.logger.Errorw("Alert journal query failed", "error", err)
		s.sendError(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, ListAlertsResponse{Alerts: alerts, Count: len(alerts)})
}

// GET /api/stats
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.coordinator.Stats(r.Context())
	if err != nil {
		s.sendCoordinatorError(w, err, "Failed to collect stats")
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// GET /health
// FUNCTIONAL DISCOVERY: 503 when the coordinator loop is down or an enabled journal is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: s.now(),
		Journal:   "disabled",
	}

	stats, err := s.coordinator.Stats(ctx)
	if err != nil {
		response.Status = "unhealthy"
	} else {
		response.Stats = stats
	}

	if s.journal != nil {
		response.Journal = "healthy"
		if err := s.journal.HealthCheck(ctx); err != nil {
			response.Status = "unhealthy"
			response.Journal = "error: " + err.Error()
		}
	}

	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	s.sendJSON(w, code, response)
}

func (s *Server) sendCoordinatorError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, interfaces.ErrCoordinatorStopped):
		s.sendError(w, "Coordinator is not running", http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.sendError(w, "Request cancelled", http.StatusServiceUnavailable)
	default:
		s.logger.Errorw(message, "error", err)
		s.sendError(w, message, http.StatusInternalServerError)
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("Failed to write response", "error", err)
	}
}

// Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS headers enable the browser-based admin console
func (s *Server) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "86400")
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
