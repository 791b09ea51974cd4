package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/conductor/pkg/models"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	workspace TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	title TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	last_active_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	tool_calls TEXT NOT NULL DEFAULT '[]',
	tool_call_id TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS tool_calls (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	tool_name TEXT NOT NULL,
	input TEXT NOT NULL DEFAULT '{}',
	result TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	message_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, created_at);
`

// SQLStore is a Store and RecordStore over database/sql, supporting the
// sqlite and postgres drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQLite opens (and migrates) a sqlite-backed store. Foreign keys are
// enabled per connection so session deletion surfaces FK violations.
func OpenSQLite(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return newSQLStore(db, "sqlite")
}

// OpenPostgres opens (and migrates) a postgres-backed store.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLStore(db, "postgres")
}

func newSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	s := &SQLStore{db: db, driver: driver}
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying pool.
func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = models.SessionActive
	}
	meta, err := json.Marshal(orEmptyMap(sess.Metadata))
	if err != nil {
		return fmt.Errorf("encode session metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO sessions (id, owner_id, workspace, status, title, metadata, last_active_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.ID, sess.OwnerID, sess.Workspace, string(sess.Status), sess.Title, string(meta),
		nullTime(sess.LastActiveAt), sess.CreatedAt, sess.UpdatedAt)
	return err
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, owner_id, workspace, status, title, metadata, last_active_at, created_at, updated_at
		 FROM sessions WHERE id = ?`), id)
	var sess models.Session
	var status, meta string
	var lastActive sql.NullTime
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Workspace, &status, &sess.Title, &meta, &lastActive, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.Status = models.SessionStatus(status)
	if lastActive.Valid {
		sess.LastActiveAt = lastActive.Time
	}
	if meta != "" {
		_ = json.Unmarshal([]byte(meta), &sess.Metadata)
	}
	return &sess, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, ownerID string) ([]models.Session, error) {
	query := `SELECT id, owner_id, workspace, status, title, metadata, last_active_at, created_at, updated_at FROM sessions`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var sess models.Session
		var status, meta string
		var lastActive sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Workspace, &status, &sess.Title, &meta, &lastActive, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sess.Status = models.SessionStatus(status)
		if lastActive.Valid {
			sess.LastActiveAt = lastActive.Time
		}
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &sess.Metadata)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM sessions WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE sessions SET last_active_at = ?, updated_at = ? WHERE id = ?`), at, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrForeignKey
	}
	return nil
}

func (s *SQLStore) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	toolCalls, err := json.Marshal(orEmptySlice(m.ToolCalls))
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}
	meta, err := json.Marshal(orEmptyMap(m.Metadata))
	if err != nil {
		return fmt.Errorf("encode message metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO messages (id, session_id, role, content, tool_calls, tool_call_id, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID, m.SessionID, string(m.Role), m.Content, string(toolCalls), m.ToolCallID, string(meta), m.CreatedAt)
	return err
}

func (s *SQLStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	query := `SELECT id, session_id, role, content, tool_calls, tool_call_id, metadata, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		var role, toolCalls, meta string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &toolCalls, &m.ToolCallID, &meta, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		_ = json.Unmarshal([]byte(toolCalls), &m.ToolCalls)
		_ = json.Unmarshal([]byte(meta), &m.Metadata)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *SQLStore) CreateToolCall(ctx context.Context, rec *models.ToolCallRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = models.RecordPending
	}
	input, err := json.Marshal(orEmptyMap(rec.Input))
	if err != nil {
		return fmt.Errorf("encode tool call input: %w", err)
	}
	var result sql.NullString
	if rec.Result != nil {
		raw, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("encode tool call result: %w", err)
		}
		result = sql.NullString{String: string(raw), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO tool_calls (id, session_id, tool_name, input, result, status, message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.SessionID, rec.ToolName, string(input), result, string(rec.Status), rec.MessageID, rec.CreatedAt)
	return err
}

func (s *SQLStore) UpdateToolCall(ctx context.Context, rec *models.ToolCallRecord) error {
	var result sql.NullString
	if rec.Result != nil {
		raw, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("encode tool call result: %w", err)
		}
		result = sql.NullString{String: string(raw), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE tool_calls SET result = ?, status = ?, message_id = ? WHERE id = ?`),
		result, string(rec.Status), rec.MessageID, rec.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLStore) LinkToolCalls(ctx context.Context, sessionID, messageID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE tool_calls SET message_id = ? WHERE session_id = ? AND message_id = ''`),
		messageID, sessionID)
	return err
}

func (s *SQLStore) ListToolCalls(ctx context.Context, sessionID string) ([]models.ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, session_id, tool_name, input, result, status, message_id, created_at
		 FROM tool_calls WHERE session_id = ? ORDER BY created_at`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanToolCalls(rows)
}

func (s *SQLStore) LatestCompletedToolCall(ctx context.Context, sessionID, toolName string) (*models.ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, session_id, tool_name, input, result, status, message_id, created_at
		 FROM tool_calls WHERE session_id = ? AND tool_name = ? AND status = 'completed'
		 ORDER BY created_at DESC LIMIT 1`), sessionID, toolName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs, err := scanToolCalls(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrRecordNotFound
	}
	return &recs[0], nil
}

func scanToolCalls(rows *sql.Rows) ([]models.ToolCallRecord, error) {
	var out []models.ToolCallRecord
	for rows.Next() {
		var rec models.ToolCallRecord
		var input, status string
		var result sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.ToolName, &input, &result, &status, &rec.MessageID, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Status = models.RecordStatus(status)
		_ = json.Unmarshal([]byte(input), &rec.Input)
		if result.Valid {
			rec.Result = &models.ToolRecordResult{}
			_ = json.Unmarshal([]byte(result.String), rec.Result)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []models.ToolCall) []models.ToolCall {
	if s == nil {
		return []models.ToolCall{}
	}
	return s
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
