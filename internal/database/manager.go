// Package database is the SQLite-backed alert journal.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	dbconfig "proctor/pkg/database"
	"proctor/pkg/interfaces"
	"proctor/pkg/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

var _ interfaces.AlertJournal = (*Manager)(nil)

// Manager implements interfaces.AlertJournal on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.SugaredLogger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	retryDelay   time.Duration
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// Option customizes a Manager
type Option func(*Manager)

// WithLogger sets the journal logger
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithRetryDelay sets the pause before a failed write is retried
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// NewManager opens the journal, applies migrations and validates the schema
func NewManager(config *dbconfig.Config, opts ...Option) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate alert journal: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("alert journal schema invalid: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       zap.NewNop().Sugar(),
		writeChannel: make(chan writeOperation, 100),
		retryDelay:   time.Second,
		shutdown:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(manager)
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: A failed write is retried exactly once
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warnw("Journal write failed, retrying", "delay", m.retryDelay, "error", err)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(m.db)
				case <-m.shutdown:
				}
				if err != nil {
					m.logger.Errorw("Journal write failed after retry", "error", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debugw("Journal write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrJournalUnavailable
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrJournalUnavailable
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrJournalUnavailable
	}
}

// RecordAlert stores an alert; a repeated alert ID is ignored
func (m *Manager) RecordAlert(ctx context.Context, alert *types.Alert) error {
	if alert == nil || alert.ID == "" {
		return errors.New("alert must have an id")
	}

	data := alert.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal alert data: %w", err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO alerts (alert_id, alert_type, exam_id, user_id, user_name, data, raised_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(alert_id) DO NOTHING
		`
		_, err := db.ExecContext(ctx, query,
			alert.ID,
			alert.Type,
			alert.ExamID,
			alert.UserID,
			alert.UserName,
			string(dataJSON),
			alert.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		return nil
	})
}

// ListAlerts returns alerts matching query, newest first
func (m *Manager) ListAlerts(ctx context.Context, query interfaces.AlertQuery) ([]*types.Alert, error) {
	// ARCHITECTURAL DISCOVERY: Reads bypass the writer; WAL keeps them consistent
	var (
		where []string
		args  []interface{}
	)
	if query.ExamID != "" {
		where = append(where, "exam_id = ?")
		args = append(args, query.ExamID)
	}
	if query.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, query.UserID)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	stmt := "SELECT alert_id, alert_type, exam_id, user_id, user_name, data, raised_at FROM alerts"
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY raised_at DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	alerts := make([]*types.Alert, 0)
	for rows.Next() {
		var (
			alert    types.Alert
			dataJSON string
		)
		if err := rows.Scan(
			&alert.ID,
			&alert.Type,
			&alert.ExamID,
			&alert.UserID,
			&alert.UserName,
			&dataJSON,
			&alert.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &alert.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal alert data: %w", err)
		}
		if len(alert.Data) == 0 {
			alert.Data = nil
		}
		alerts = append(alerts, &alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}
	return alerts, nil
}

// HealthCheck validates journal connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return interfaces.ErrJournalUnavailable
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close shuts down the writer and the connection pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
