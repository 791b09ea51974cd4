// Package sessions provides persistence for sessions, messages, and
// tool-call audit records.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
	sqlite "modernc.org/sqlite"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Store errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrRecordNotFound  = errors.New("tool call record not found")

	// ErrForeignKey marks a write that lost its parent row, typically a
	// session deleted during an in-flight turn. Callers finalizing a turn
	// must swallow it.
	ErrForeignKey = errors.New("foreign key violation")
)

// pq class 23503 = foreign_key_violation; sqlite primary code 19 =
// SQLITE_CONSTRAINT, extended 787 = SQLITE_CONSTRAINT_FOREIGNKEY.
const (
	pqForeignKeyCode        = "23503"
	sqliteConstraintCode    = 19
	sqliteForeignKeyExtCode = 787
)

// IsForeignKeyViolation reports whether err is a foreign-key violation from
// any supported backend.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrForeignKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqForeignKeyCode
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code() == sqliteForeignKeyExtCode || sqErr.Code() == sqliteConstraintCode
	}
	return false
}

// Store persists sessions and their messages. Messages are immutable once
// created and listed in createdAt order.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, ownerID string) ([]models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	TouchSession(ctx context.Context, id string, at time.Time) error

	CreateMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}

// RecordStore persists tool-call audit records. Pending records are linked to
// the assistant message id post-hoc when the turn finalizes.
type RecordStore interface {
	CreateToolCall(ctx context.Context, rec *models.ToolCallRecord) error
	UpdateToolCall(ctx context.Context, rec *models.ToolCallRecord) error
	LinkToolCalls(ctx context.Context, sessionID, messageID string) error
	ListToolCalls(ctx context.Context, sessionID string) ([]models.ToolCallRecord, error)
	LatestCompletedToolCall(ctx context.Context, sessionID, toolName string) (*models.ToolCallRecord, error)
}
