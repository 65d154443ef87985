package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/flowguard/pkg/engine"
	"github.com/openfroyo/flowguard/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore persists execution records, breaker states, idempotency keys
// and events in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" validate:"gte=0"`
	BusyTimeout     time.Duration `yaml:"busy_timeout" validate:"gte=0"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	// Every connection to :memory: is a separate database
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.cfg.Path, s.cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// SaveExecution upserts an execution record.
func (s *SQLiteStore) SaveExecution(ctx context.Context, exec *engine.RetryableExecution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to encode execution: %w", err)
	}

	query := `
		INSERT INTO executions (execution_id, node_id, connector_id, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id, node_id) DO UPDATE SET
			connector_id = excluded.connector_id,
			status = excluded.status,
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		exec.ExecutionID,
		exec.NodeID,
		exec.ConnectorID,
		string(exec.Status),
		string(data),
		exec.CreatedAt.UnixNano(),
		exec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	return nil
}

// DeleteExecution removes an execution record. Deleting a missing record is not an error.
func (s *SQLiteStore) DeleteExecution(ctx context.Context, executionID, nodeID string) error {
	query := `DELETE FROM executions WHERE execution_id = ? AND node_id = ?`

	if _, err := s.db.ExecContext(ctx, query, executionID, nodeID); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	return nil
}

// LoadExecutions returns every persisted execution record.
func (s *SQLiteStore) LoadExecutions(ctx context.Context) ([]engine.RetryableExecution, error) {
	return s.queryExecutions(ctx, `SELECT data FROM executions ORDER BY created_at`)
}

// ListExecutions lists execution records with pagination, most recently
// updated first. An empty status lists every record.
func (s *SQLiteStore) ListExecutions(ctx context.Context, status engine.ExecutionStatus, limit, offset int) ([]engine.RetryableExecution, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT data FROM executions
		WHERE (? = '' OR status = ?)
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`
	return s.queryExecutions(ctx, query, string(status), string(status), limit, offset)
}

// GetExecution returns one execution record.
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID, nodeID string) (*engine.RetryableExecution, error) {
	query := `SELECT data FROM executions WHERE execution_id = ? AND node_id = ?`

	var data string
	err := s.db.QueryRowContext(ctx, query, executionID, nodeID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, engine.NewNotFoundError(fmt.Sprintf("execution not found: %s", engine.ExecutionKey(executionID, nodeID)))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	exec := &engine.RetryableExecution{}
	if err := json.Unmarshal([]byte(data), exec); err != nil {
		return nil, fmt.Errorf("failed to decode execution: %w", err)
	}
	return exec, nil
}

func (s *SQLiteStore) queryExecutions(ctx context.Context, query string, args ...any) ([]engine.RetryableExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	execs := []engine.RetryableExecution{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		var exec engine.RetryableExecution
		if err := json.Unmarshal([]byte(data), &exec); err != nil {
			return nil, fmt.Errorf("failed to decode execution: %w", err)
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return execs, nil
}

// SaveCircuit upserts a breaker state.
func (s *SQLiteStore) SaveCircuit(ctx context.Context, state *engine.CircuitBreakerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode circuit state: %w", err)
	}

	query := `
		INSERT INTO circuit_states (connector_id, node_id, state, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(connector_id, node_id) DO UPDATE SET
			state = excluded.state,
			data = excluded.data,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		state.ConnectorID,
		state.NodeID,
		string(state.State),
		string(data),
		s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save circuit state: %w", err)
	}

	return nil
}

// DeleteCircuit removes a breaker state. Deleting a missing state is not an error.
func (s *SQLiteStore) DeleteCircuit(ctx context.Context, connectorID, nodeID string) error {
	query := `DELETE FROM circuit_states WHERE connector_id = ? AND node_id = ?`

	if _, err := s.db.ExecContext(ctx, query, connectorID, nodeID); err != nil {
		return fmt.Errorf("failed to delete circuit state: %w", err)
	}
	return nil
}

// LoadCircuits returns every persisted breaker state ordered by key.
func (s *SQLiteStore) LoadCircuits(ctx context.Context) ([]engine.CircuitBreakerState, error) {
	query := `SELECT data FROM circuit_states ORDER BY connector_id, node_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list circuit states: %w", err)
	}
	defer rows.Close()

	states := []engine.CircuitBreakerState{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan circuit state: %w", err)
		}
		var st engine.CircuitBreakerState
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return nil, fmt.Errorf("failed to decode circuit state: %w", err)
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating circuit states: %w", err)
	}

	return states, nil
}

// Get returns the live idempotency record for key. The cached result is
// returned as json.RawMessage.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*engine.IdempotencyRecord, bool, error) {
	query := `
		SELECT key, execution_id, node_id, result, created_at, expires_at
		FROM idempotency_keys
		WHERE key = ? AND expires_at > ?
	`

	var (
		rec                  engine.IdempotencyRecord
		result               sql.NullString
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixNano()).Scan(
		&rec.Key,
		&rec.ExecutionID,
		&rec.NodeID,
		&result,
		&createdAt,
		&expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get idempotency key: %w", err)
	}

	if result.Valid {
		rec.Result = json.RawMessage(result.String)
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return &rec, true, nil
}

// Put stores or replaces an idempotency record. The result must be JSON encodable.
func (s *SQLiteStore) Put(ctx context.Context, record *engine.IdempotencyRecord) error {
	if record == nil || record.Key == "" {
		return engine.NewValidationError("idempotency record requires a key")
	}

	var result *string
	if record.Result != nil {
		data, err := json.Marshal(record.Result)
		if err != nil {
			return fmt.Errorf("failed to encode idempotency result: %w", err)
		}
		str := string(data)
		result = &str
	}

	query := `
		INSERT INTO idempotency_keys (key, execution_id, node_id, result, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			execution_id = excluded.execution_id,
			node_id = excluded.node_id,
			result = excluded.result,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.Key,
		record.ExecutionID,
		record.NodeID,
		result,
		record.CreatedAt.UnixNano(),
		record.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to put idempotency key: %w", err)
	}

	return nil
}

// Sweep deletes idempotency records that expired at or before now.
func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency keys: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// Len returns the number of live idempotency records.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_keys WHERE expires_at > ?`, s.now().UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count idempotency keys: %w", err)
	}
	return n, nil
}

// AppendEvent appends a new event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *telemetry.Event) error {
	var data *string
	if len(event.Data) > 0 {
		b, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		str := string(b)
		data = &str
	}

	query := `
		INSERT INTO events (id, type, level, source, execution_id, node_id, connector_id, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Level,
		event.Source,
		event.ExecutionID,
		event.NodeID,
		event.ConnectorID,
		event.Message,
		data,
		event.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents retrieves events matching q, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, q EventQuery) ([]telemetry.Event, error) {
	var (
		where []string
		args  []any
	)
	if q.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, q.ExecutionID)
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.Level != "" {
		where = append(where, "level = ?")
		args = append(args, q.Level)
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Since.UnixNano())
	}

	query := `SELECT id, type, level, source, execution_id, node_id, connector_id, message, data, timestamp FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ? OFFSET ?"

	limit := q.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []telemetry.Event{}
	for rows.Next() {
		var (
			event telemetry.Event
			data  sql.NullString
			ts    int64
		)
		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Level,
			&event.Source,
			&event.ExecutionID,
			&event.NodeID,
			&event.ConnectorID,
			&event.Message,
			&data,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		event.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// DeleteEventsBefore prunes events older than before and returns the count.
func (s *SQLiteStore) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return result.RowsAffected()
}

// EventSink returns a subscriber that appends every delivered event to the
// store. Write failures are logged.
func (s *SQLiteStore) EventSink(logger zerolog.Logger) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.AppendEvent(ctx, &event); err != nil {
			logger.Error().Err(err).Str("event_type", event.Type).Str("event_id", event.ID).Msg("Failed to persist event")
		}
	}
}
