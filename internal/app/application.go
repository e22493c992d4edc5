// Package app wires the coordinator together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"proctor/internal/alert"
	"proctor/internal/api"
	"proctor/internal/config"
	"proctor/internal/database"
	"proctor/internal/hub"
	"proctor/internal/liveness"
	"proctor/internal/registry"
	"proctor/internal/router"
	"proctor/internal/session"
	"proctor/internal/websocket"
	dbconfig "proctor/pkg/database"
	"proctor/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.SugaredLogger
	journal    *database.Manager // nil when disabled
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	scheduler  *cron.Cron

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Journal → Stores → Hub → Transport → HTTP
func NewApplication(cfg *config.Config, logger *zap.SugaredLogger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Alert journal (optional external collaborator)
	var (
		journalMgr *database.Manager
		journal    interfaces.AlertJournal
	)
	if cfg.Journal.Enabled {
		dbCfg := dbconfig.DefaultConfig()
		dbCfg.DatabasePath = cfg.Journal.Path
		dbCfg.MaxConnections = cfg.Journal.MaxConnections

		mgr, err := database.NewManager(dbCfg,
			database.WithLogger(logger.Named("journal")),
			database.WithRetryDelay(cfg.Journal.RetryDelay),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize alert journal: %w", err)
		}
		journalMgr = mgr
		// TECHNICAL DISCOVERY: Assign only when enabled, a typed nil would defeat the nil checks downstream
		journal = mgr
		logger.Infow("Alert journal enabled", "path", cfg.Journal.Path)
	}

	// STEP 2: Stores owned by the hub goroutine
	reg := registry.NewRegistry(nil)
	directory := session.NewDirectory(nil)
	msgRouter := router.NewRouter(reg, logger.Named("router"))
	limiter := router.NewRateLimiter(cfg.Router.RateLimit, cfg.Router.RateWindow, nil)
	broadcaster := alert.NewBroadcaster(reg, nil, logger.Named("alert"))
	live, err := liveness.NewManager(reg, liveness.Config{
		HeartbeatWindow: cfg.Liveness.HeartbeatWindow,
		ProbeGrace:      cfg.Liveness.ProbeGrace,
	}, nil, logger.Named("liveness"))
	if err != nil {
		closeJournal(journalMgr)
		return nil, fmt.Errorf("failed to initialize liveness manager: %w", err)
	}

	// STEP 3: Hub
	messageHub, err := hub.NewHub(hub.Config{
		EventBuffer:    cfg.WebSocket.EventBuffer,
		SessionGrace:   cfg.Liveness.SessionGrace,
		ConnectTimeout: cfg.Liveness.ConnectTimeout,
		JournalTimeout: cfg.Journal.Timeout,
	}, hub.Deps{
		Registry:  reg,
		Directory: directory,
		Router:    msgRouter,
		Limiter:   limiter,
		Alerts:    broadcaster,
		Liveness:  live,
		Journal:   journal,
		Logger:    logger.Named("hub"),
	})
	if err != nil {
		closeJournal(journalMgr)
		return nil, fmt.Errorf("failed to initialize hub: %w", err)
	}

	// STEP 4: Transport
	wsHandler := websocket.NewHandler(messageHub, websocket.Config{
		WriteBuffer:     cfg.WebSocket.WriteBuffer,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	}, logger.Named("websocket"))

	// STEP 5: HTTP surface
	apiServer := api.NewServer(messageHub, journal, logger.Named("api"))
	apiServer.Handle("/ws", wsHandler)
	if cfg.Metrics.Enabled {
		apiServer.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		journal:    journalMgr,
		hub:        messageHub,
		apiServer:  apiServer,
		httpServer: httpServer,
		scheduler:  cron.New(cron.WithLocation(time.UTC)),
		errCh:      make(chan error, 1),
	}, nil
}

// Start begins application execution
// Hub starts first to handle messages, then the sweep schedule, then HTTP accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Liveness and session grace are evaluated on a fixed
	// sweep, so a window can be overrun by at most one interval
	spec := fmt.Sprintf("@every %s", app.config.Liveness.SweepInterval)
	if _, err := app.scheduler.AddFunc(spec, app.sweep); err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to schedule liveness sweep: %w", err)
	}
	app.scheduler.Start()

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.stopScheduler()
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	app.logger.Infow("Proctoring coordinator started",
		"addr", listener.Addr().String(),
		"sweep_interval", app.config.Liveness.SweepInterval,
		"journal", app.journal != nil,
		"metrics", app.config.Metrics.Enabled,
	)
	return nil
}

func (app *Application) sweep() {
	if err := app.hub.Tick(); err != nil {
		app.logger.Debugw("Sweep tick not queued", "error", err)
	}
}

// Errors reports fatal runtime errors from the HTTP server
func (app *Application) Errors() <-chan error {
	return app.errCh
}

// Addr returns the bound listener address once started, else the configured one
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Stop gracefully shuts down the application
// Reverse dependency order: Schedule → HTTP → Hub → Journal
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Infow("Shutting down proctoring coordinator")

	app.stopScheduler()

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if app.journal != nil {
		if err := app.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal shutdown: %w", err))
		}
	}

	app.logger.Infow("Proctoring coordinator shutdown complete")
	return errors.Join(errs...)
}

func (app *Application) stopScheduler() {
	<-app.scheduler.Stop().Done()
}

func closeJournal(m *database.Manager) {
	if m != nil {
		_ = m.Close()
	}
}
