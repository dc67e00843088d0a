package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	dbconfig "vibepie/pkg/database"
	"vibepie/pkg/interfaces"
	"vibepie/pkg/types"
)

// Manager is the SQLite generation history store
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: single writer for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex

	retryDelay   time.Duration
	writeTimeout time.Duration
}

var _ interfaces.HistoryStore = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies the embedded migrations and starts
// the write loop.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	migrations := dbconfig.NewMigrationManager(db)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   500 * time.Millisecond,
		writeTimeout: 10 * time.Second,
	}

	// ARCHITECTURAL DISCOVERY: one goroutine owns every write, readers go
	// straight to the pool
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: a locked file usually clears quickly, so
			// a failed write is retried exactly once
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in %v: %v", m.retryDelay, err)
				time.Sleep(m.retryDelay)
				if err = op.operation(m.db); err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write and waits for its result
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// result is buffered, so the write loop never blocks on an abandoned caller
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// RecordGeneration appends one pipeline outcome
func (m *Manager) RecordGeneration(ctx context.Context, record *types.GenerationRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("generation record requires an id")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	createdAt = createdAt.UTC()

	return m.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO generation_log (id, session_id, prompt, status, reason, attempts, code_length, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			record.ID,
			record.SessionID,
			record.Prompt,
			record.Status,
			record.Reason,
			record.Attempts,
			record.CodeLength,
			createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert generation record: %w", err)
		}
		return nil
	})
}

// RecentGenerations returns up to limit records, newest first
func (m *Manager) RecentGenerations(ctx context.Context, limit int) ([]*types.GenerationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, prompt, status, reason, attempts, code_length, created_at
		FROM generation_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	return m.query(ctx, query, limit)
}

// SessionGenerations returns up to limit records of one session, newest first
func (m *Manager) SessionGenerations(ctx context.Context, sessionID string, limit int) ([]*types.GenerationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, session_id, prompt, status, reason, attempts, code_length, created_at
		FROM generation_log
		WHERE session_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	return m.query(ctx, query, sessionID, limit)
}

func (m *Manager) query(ctx context.Context, query string, args ...interface{}) ([]*types.GenerationRecord, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*types.GenerationRecord{}
	for rows.Next() {
		var rec types.GenerationRecord
		err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.Prompt,
			&rec.Status,
			&rec.Reason,
			&rec.Attempts,
			&rec.CodeLength,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation row: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation rows: %w", err)
	}
	return records, nil
}

// Prune deletes records created before cutoff
func (m *Manager) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM generation_log WHERE created_at < ?`, cutoff.UTC())
		if err != nil {
			return fmt.Errorf("failed to prune generation log: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

// RunRetention prunes records older than the configured retention every
// interval until ctx is cancelled. Zero retention disables pruning.
func (m *Manager) RunRetention(ctx context.Context, interval time.Duration) error {
	if m.config.Retention <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := m.Prune(ctx, time.Now().Add(-m.config.Retention))
			if err != nil {
				log.Printf("Generation history pruning failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("Pruned %d generation records", removed)
			}
		}
	}
}

// HealthCheck validates connectivity and that the log table is readable
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM generation_log").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the write loop and closes the pool. Safe to call twice.
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
