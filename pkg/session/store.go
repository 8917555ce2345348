package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/gtplanner/gtplanner/pkg/protocol"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// SQLStore persists conversations in a SQL database. Sessions hold metadata
// and the accumulated tool results; messages live in their own table keyed by
// sequence number. Concurrency is handled by database-level locking.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// Info is the listing row for a session.
type Info struct {
	ID           string
	MessageCount int
	LastUpdated  time.Time
}

const createSessionsSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    metadata_json TEXT,
    tool_results_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createMessagesSchemaSQL = `
CREATE TABLE IF NOT EXISTS session_messages (
    session_id VARCHAR(255) NOT NULL,
    sequence_num INTEGER NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT,
    tool_calls_json TEXT,
    tool_call_id VARCHAR(255),
    metadata_json TEXT,
    ts DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (session_id, sequence_num)
)`

const createMessagesIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_messages_session ON session_messages(session_id, sequence_num)`

// Open connects per the config and returns a ready store. SQLite runs on a
// single connection in WAL mode to avoid "database is locked" errors.
func Open(cfg DatabaseConfig) (*SQLStore, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.DriverName() == "sqlite3" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.DriverName() == "sqlite3" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			slog.Warn("Failed to enable WAL mode", "error", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=10000"); err != nil {
			slog.Warn("Failed to set busy timeout", "error", err)
		}
	}

	return NewSQLStore(db, cfg.Dialect())
}

// NewSQLStore wraps an existing connection and creates the schema.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	case "sqlite3":
		dialect = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Executed one by one for SQLite compatibility.
	statements := []string{
		createSessionsSchemaSQL,
		createMessagesSchemaSQL,
		createMessagesIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Create inserts a new session row. Creating an existing id is an error.
func (s *SQLStore) Create(ctx context.Context, sessionID string, metadata map[string]any) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now()
	query := s.rebind(`INSERT INTO sessions (id, metadata_json, tool_results_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(metaJSON), "{}", now, now); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Load rebuilds the agent context for a session: metadata, tool results, and
// the full dialogue history in order.
func (s *SQLStore) Load(ctx context.Context, sessionID string) (*protocol.AgentContext, error) {
	query := s.rebind(`SELECT metadata_json, tool_results_json, updated_at FROM sessions WHERE id = ?`)

	var metaJSON, resultsJSON string
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&metaJSON, &resultsJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	agentCtx := &protocol.AgentContext{
		SessionID:   sessionID,
		LastUpdated: float64(updatedAt.UnixNano()) / float64(time.Second),
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &agentCtx.SessionMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session metadata: %w", err)
		}
	}
	if resultsJSON != "" {
		if err := json.Unmarshal([]byte(resultsJSON), &agentCtx.ToolExecutionResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool results: %w", err)
		}
	}

	messages, err := s.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	agentCtx.DialogueHistory = messages
	return agentCtx, nil
}

func (s *SQLStore) loadMessages(ctx context.Context, sessionID string) ([]protocol.Message, error) {
	query := s.rebind(`SELECT role, content, tool_calls_json, tool_call_id, metadata_json, ts
        FROM session_messages WHERE session_id = ? ORDER BY sequence_num ASC`)

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []protocol.Message
	for rows.Next() {
		var msg protocol.Message
		var toolCallsJSON, toolCallID, metaJSON sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &toolCallsJSON, &toolCallID, &metaJSON, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if toolCallID.Valid {
			msg.ToolCallID = toolCallID.String
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ApplyResult folds one turn's outcome into the store: new messages are
// appended in order and the tool-result updates are merged key by key over
// the stored map. Everything happens in one transaction.
func (s *SQLStore) ApplyResult(ctx context.Context, sessionID string, result *protocol.AgentResult) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.rebind(`SELECT tool_results_json FROM sessions WHERE id = ?`)
	var resultsJSON string
	err = tx.QueryRowContext(ctx, query, sessionID).Scan(&resultsJSON)
	if err == sql.ErrNoRows {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read tool results: %w", err)
	}

	if len(result.ToolExecutionResultsUpd) > 0 {
		existing := make(map[string]any)
		if resultsJSON != "" {
			_ = json.Unmarshal([]byte(resultsJSON), &existing)
		}
		maps.Copy(existing, result.ToolExecutionResultsUpd)
		merged, err := json.Marshal(existing)
		if err != nil {
			return fmt.Errorf("failed to marshal tool results: %w", err)
		}
		update := s.rebind(`UPDATE sessions SET tool_results_json = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, update, string(merged), sessionID); err != nil {
			return fmt.Errorf("failed to update tool results: %w", err)
		}
	}

	seq, err := s.nextSequenceNumTx(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	insert := s.rebind(`INSERT INTO session_messages
        (session_id, sequence_num, role, content, tool_calls_json, tool_call_id, metadata_json, ts)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, msg := range result.NewMessages {
		var toolCallsJSON, metaJSON string
		if len(msg.ToolCalls) > 0 {
			b, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to marshal tool calls: %w", err)
			}
			toolCallsJSON = string(b)
		}
		if len(msg.Metadata) > 0 {
			b, err := json.Marshal(msg.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal message metadata: %w", err)
			}
			metaJSON = string(b)
		}
		if _, err := tx.ExecContext(ctx, insert,
			sessionID, seq, msg.Role, msg.Content, toolCallsJSON, msg.ToolCallID, metaJSON, msg.Timestamp); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		seq++
	}

	touch := s.rebind(`UPDATE sessions SET updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, touch, time.Now(), sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) nextSequenceNumTx(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	query := s.rebind(`SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_messages WHERE session_id = ?`)
	var seq int
	if err := tx.QueryRowContext(ctx, query, sessionID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to get sequence number: %w", err)
	}
	return seq, nil
}

// List returns every session with its message count, most recent first.
func (s *SQLStore) List(ctx context.Context) ([]Info, error) {
	query := `SELECT s.id, COUNT(m.sequence_num), s.updated_at
        FROM sessions s
        LEFT JOIN session_messages m ON m.session_id = s.id
        GROUP BY s.id, s.updated_at
        ORDER BY s.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ID, &info.MessageCount, &info.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes a session and its messages.
func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	msgQuery := s.rebind(`DELETE FROM session_messages WHERE session_id = ?`)
	if _, err := s.db.ExecContext(ctx, msgQuery, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	query := s.rebind(`DELETE FROM sessions WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 20)
	paramNum := 1
	for _, c := range query {
		if c == '?' {
			fmt.Fprintf(&b, "$%d", paramNum)
			paramNum++
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}
