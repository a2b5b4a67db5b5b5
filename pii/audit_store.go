package pii

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// DefaultMaxAuditEvents is the capacity of the in-memory audit store.
const DefaultMaxAuditEvents = 5000

// AuditEvent records one anonymization call. It never contains input text or
// entity text, only sizes and per-type counts.
type AuditEvent struct {
	ID           int64          `json:"id"`
	RequestID    string         `json:"request_id"`
	Operation    string         `json:"operation"`
	Outcome      string         `json:"outcome"`
	TextLength   int            `json:"text_length"`
	EntityCounts map[string]int `json:"entity_counts"`
	DurationMS   float64        `json:"duration_ms"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuditStore persists audit events.
type AuditStore interface {
	// Record stores an event. ID and a zero CreatedAt are filled in by the store.
	Record(ctx context.Context, event AuditEvent) error

	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]AuditEvent, error)

	// Cleanup removes events older than the given duration
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)

	// Close closes the underlying storage
	Close() error
}

// CountEntities returns the number of entities per type.
func CountEntities(entities []Entity) map[string]int {
	counts := make(map[string]int, len(entities))
	for _, e := range entities {
		counts[e.Type]++
	}
	return counts
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	Database     string
	Username     string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// PostgresAuditStore implements AuditStore for PostgreSQL
type PostgresAuditStore struct {
	db *sql.DB
}

// NewPostgresAuditStore connects to PostgreSQL and creates the audit table
// if needed.
func NewPostgresAuditStore(ctx context.Context, config DatabaseConfig) (*PostgresAuditStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.Username, config.Password, config.Database, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store, err := NewPostgresAuditStoreFromDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresAuditStoreFromDB uses an already opened connection pool.
func NewPostgresAuditStoreFromDB(ctx context.Context, db *sql.DB) (*PostgresAuditStore, error) {
	if err := createAuditTable(ctx, db); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &PostgresAuditStore{db: db}, nil
}

func createAuditTable(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS anonymization_audit (
		id BIGSERIAL PRIMARY KEY,
		request_id VARCHAR(64) NOT NULL,
		operation VARCHAR(32) NOT NULL,
		outcome VARCHAR(64) NOT NULL,
		text_length INTEGER NOT NULL,
		entity_counts JSONB NOT NULL DEFAULT '{}',
		duration_ms DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_anonymization_audit_created_at ON anonymization_audit(created_at);
	CREATE INDEX IF NOT EXISTS idx_anonymization_audit_outcome ON anonymization_audit(outcome);
	`

	_, err := db.ExecContext(ctx, query)
	return err
}

// Record stores an audit event
func (p *PostgresAuditStore) Record(ctx context.Context, event AuditEvent) error {
	counts := event.EntityCounts
	if counts == nil {
		counts = map[string]int{}
	}
	countsJSON, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("failed to marshal entity counts: %w", err)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO anonymization_audit (request_id, operation, outcome, text_length, entity_counts, duration_ms, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = p.db.ExecContext(ctx, query,
		event.RequestID, event.Operation, event.Outcome, event.TextLength,
		string(countsJSON), event.DurationMS, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Recent returns the newest audit events
func (p *PostgresAuditStore) Recent(ctx context.Context, limit int) ([]AuditEvent, error) {
	query := `
	SELECT id, request_id, operation, outcome, text_length, entity_counts, duration_ms, created_at
	FROM anonymization_audit
	ORDER BY created_at DESC, id DESC
	LIMIT $1
	`

	rows, err := p.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []AuditEvent{}
	for rows.Next() {
		var event AuditEvent
		var countsJSON []byte
		if err := rows.Scan(&event.ID, &event.RequestID, &event.Operation, &event.Outcome,
			&event.TextLength, &countsJSON, &event.DurationMS, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(countsJSON) > 0 {
			if err := json.Unmarshal(countsJSON, &event.EntityCounts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal entity counts: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return events, nil
}

// Cleanup removes audit events older than specified duration
func (p *PostgresAuditStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `DELETE FROM anonymization_audit WHERE created_at < $1`

	result, err := p.db.ExecContext(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit events: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (p *PostgresAuditStore) Close() error {
	return p.db.Close()
}

// InMemoryAuditStore keeps the newest events in a fixed-size ring buffer.
type InMemoryAuditStore struct {
	mu     sync.RWMutex
	events []AuditEvent
	next   int
	full   bool
	lastID int64
}

func NewInMemoryAuditStore(maxEvents int) *InMemoryAuditStore {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxAuditEvents
	}
	return &InMemoryAuditStore{events: make([]AuditEvent, maxEvents)}
}

func (m *InMemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastID++
	event.ID = m.lastID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	m.events[m.next] = event
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *InMemoryAuditStore) Recent(_ context.Context, limit int) ([]AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.len()
	if limit <= 0 || limit > size {
		limit = size
	}
	events := make([]AuditEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.events)) % len(m.events)
		events = append(events, m.events[idx])
	}
	return events, nil
}

func (m *InMemoryAuditStore) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	size := m.len()
	kept := make([]AuditEvent, 0, size)
	for i := size; i >= 1; i-- {
		e := m.events[(m.next-i+len(m.events))%len(m.events)]
		if !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}

	removed := int64(size - len(kept))
	m.events = make([]AuditEvent, len(m.events))
	copy(m.events, kept)
	m.next = len(kept) % len(m.events)
	m.full = len(kept) == len(m.events)
	return removed, nil
}

func (m *InMemoryAuditStore) Close() error {
	return nil
}

func (m *InMemoryAuditStore) len() int {
	if m.full {
		return len(m.events)
	}
	return m.next
}
