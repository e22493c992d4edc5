// Package hub runs the coordinator's single event loop. Every connection
// event, tick and admin query is processed there, one at a time, against
// the registry and session directory it owns.
package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"proctor/internal/alert"
	"proctor/internal/liveness"
	"proctor/internal/registry"
	"proctor/internal/router"
	"proctor/internal/session"
	"proctor/pkg/interfaces"
)

// Config holds the hub's own tunables
type Config struct {
	EventBuffer    int
	SessionGrace   time.Duration
	ConnectTimeout time.Duration // how long a peer may stay unregistered
	JournalTimeout time.Duration
}

// Deps are the stores and collaborators the hub drives. Journal is optional.
type Deps struct {
	Registry  *registry.Registry
	Directory *session.Directory
	Router    *router.Router
	Limiter   *router.RateLimiter
	Alerts    *alert.Broadcaster
	Liveness  *liveness.Manager
	Journal   interfaces.AlertJournal
	Logger    *zap.SugaredLogger
	Now       func() time.Time
}

// Hub coordinates registration, routing, alerts and liveness
// ARCHITECTURAL DISCOVERY: One buffered channel carries every event kind so a
// connection's messages and its disconnect are handled in the order they happened
type Hub struct {
	config Config
	events chan event
	quit   chan struct{}
	done   chan struct{}

	registry  *registry.Registry
	directory *session.Directory
	router    *router.Router
	limiter   *router.RateLimiter
	alerts    *alert.Broadcaster
	liveness  *liveness.Manager
	journal   interfaces.AlertJournal
	logger    *zap.SugaredLogger
	now       func() time.Time

	// Peers that connected but have not registered yet, owned by the loop
	pending map[interfaces.Peer]time.Time

	journalWG sync.WaitGroup

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub over the given stores and installs the removal cascade
func NewHub(config Config, deps Deps) (*Hub, error) {
	if deps.Registry == nil || deps.Directory == nil || deps.Router == nil ||
		deps.Limiter == nil || deps.Alerts == nil || deps.Liveness == nil {
		return nil, ErrMissingDependency
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 1024
	}
	if config.SessionGrace <= 0 {
		config.SessionGrace = 60 * time.Second
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.JournalTimeout <= 0 {
		config.JournalTimeout = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	h := &Hub{
		config:    config,
		events:    make(chan event, config.EventBuffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		registry:  deps.Registry,
		directory: deps.Directory,
		router:    deps.Router,
		limiter:   deps.Limiter,
		alerts:    deps.Alerts,
		liveness:  deps.Liveness,
		journal:   deps.Journal,
		logger:    deps.Logger,
		now:       deps.Now,
		pending:   make(map[interfaces.Peer]time.Time),
	}
	h.registry.OnRemove(h.onConnectionRemoved)
	return h, nil
}

// Start begins event processing on a single goroutine
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	select {
	case <-h.quit:
		// A stopped hub cannot be restarted
		return ErrHubNotRunning
	default:
	}
	h.running = true

	h.logger.Infow("Starting coordinator hub", "event_buffer", h.config.EventBuffer)
	go h.run(ctx)
	return nil
}

// Stop ends event processing and waits for the loop and in-flight journal writes
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.quit)
	h.mu.Unlock()

	h.logger.Infow("Stopping coordinator hub")
	<-h.done
	h.journalWG.Wait()
	return nil
}

// Done is closed once the event loop has exited
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// enqueue never blocks; a full queue is reported to the transport
func (h *Hub) enqueue(ev event) error {
	if !h.isRunning() {
		return ErrHubNotRunning
	}
	select {
	case h.events <- ev:
		return nil
	default:
		return ErrEventQueueFull
	}
}

// run is the main hub processing loop
// TECHNICAL DISCOVERY: Single select loop means no store needs a lock
func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer h.logger.Infow("Hub processing stopped")
	defer h.closePeers()

	for {
		select {
		case ev := <-h.events:
			h.dispatch(ev)

		case <-h.quit:
			return

		case <-ctx.Done():
			h.logger.Infow("Hub context cancelled")
			return
		}
	}
}

// closePeers releases every transport the loop still owns once it has exited.
// Nothing unregisters them afterwards, so the registry is left as is.
func (h *Hub) closePeers() {
	conns := h.registry.All()
	for _, conn := range conns {
		_ = conn.Peer.Close()
	}
	for peer := range h.pending {
		_ = peer.Close()
		delete(h.pending, peer)
	}
	h.logger.Infow("Closed peers on shutdown", "registered", len(conns))
}

func (h *Hub) dispatch(ev event) {
	switch e := ev.(type) {
	case connectEvent:
		h.handleConnect(e.peer)
	case messageEvent:
		h.handleMessage(e.peer, e.envelope)
	case disconnectEvent:
		h.handleDisconnect(e.peer)
	case pongEvent:
		h.handlePong(e.peer)
	case tickEvent:
		h.handleTick()
	case queryEvent:
		e.fn()
		close(e.reply)
	}
}
