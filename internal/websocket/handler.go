package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

// EventSink receives transport events. The hub implements it.
type EventSink interface {
	Connect(peer interfaces.Peer) error
	Receive(peer interfaces.Peer, env *types.Envelope) error
	Disconnect(peer interfaces.Peer) error
	Pong(peer interfaces.Peer) error
}

// Handler upgrades HTTP requests and pumps frames into the hub
// ARCHITECTURAL DISCOVERY: The transport knows nothing about roles or routing;
// registration happens in-band with the first envelope
type Handler struct {
	sink     EventSink
	config   Config
	upgrader websocket.Upgrader
	logger   *zap.SugaredLogger
}

// NewHandler creates a websocket handler feeding sink
func NewHandler(sink EventSink, config Config, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	config = config.withDefaults()

	h := &Handler{
		sink:   sink,
		config: config,
		logger: logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows every origin unless an allow-list is configured
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP handles websocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(ws, h.config)
	if err := h.sink.Connect(conn); err != nil {
		h.logger.Warnw("Coordinator refused connection", "remote_addr", r.RemoteAddr, "error", err)
		_ = conn.Close()
		return
	}

	go h.readLoop(ws, conn)
}

// readLoop forwards inbound envelopes in arrival order until the socket fails
// TECHNICAL DISCOVERY: The read deadline is only a backstop for dead TCP peers;
// liveness decisions belong to the hub
func (h *Handler) readLoop(ws *websocket.Conn, conn *Connection) {
	defer func() {
		if err := h.sink.Disconnect(conn); err != nil {
			h.logger.Debugw("Disconnect not delivered", "remote_addr", conn.RemoteAddr(), "error", err)
		}
		_ = conn.Close()
	}()

	ws.SetReadLimit(h.config.MaxMessageBytes)
	extend := func() error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	}
	if err := extend(); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		if err := h.sink.Pong(conn); err != nil {
			h.logger.Debugw("Pong not delivered", "remote_addr", conn.RemoteAddr(), "error", err)
		}
		return extend()
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Infow("WebSocket read error", "remote_addr", conn.RemoteAddr(), "error", err)
			}
			return
		}
		if err := extend(); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Debugw("Dropping malformed frame", "remote_addr", conn.RemoteAddr(), "error", err)
			continue
		}
		if err := h.sink.Receive(conn, &env); err != nil {
			h.logger.Warnw("Dropping envelope", "remote_addr", conn.RemoteAddr(), "type", env.Type, "error", err)
		}
	}
}
