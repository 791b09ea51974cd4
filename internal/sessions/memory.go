package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/pkg/models"
)

// MemoryStore is an in-memory Store and RecordStore for tests and
// single-process deployments. Reads return copies; writes against a missing
// session fail with ErrForeignKey, matching the SQL backends.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]models.Message
	records  map[string][]models.ToolCallRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]models.Message),
		records:  make(map[string][]models.ToolCallRecord),
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, ownerID string) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Session
	for _, sess := range s.sessions {
		if ownerID == "" || sess.OwnerID == ownerID {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrForeignKey
	}
	sess.LastActiveAt = at
	sess.UpdatedAt = at
	return nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[m.SessionID]; !ok {
		return ErrForeignKey
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.messages[m.SessionID] = append(s.messages[m.SessionID], *m)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	sorted := make([]models.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

func (s *MemoryStore) CreateToolCall(ctx context.Context, rec *models.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.SessionID]; !ok {
		return ErrForeignKey
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.records[rec.SessionID] = append(s.records[rec.SessionID], *rec)
	return nil
}

func (s *MemoryStore) UpdateToolCall(ctx context.Context, rec *models.ToolCallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.records[rec.SessionID]
	for i := range recs {
		if recs[i].ID == rec.ID {
			recs[i] = *rec
			return nil
		}
	}
	return ErrRecordNotFound
}

func (s *MemoryStore) LinkToolCalls(ctx context.Context, sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrForeignKey
	}
	recs := s.records[sessionID]
	for i := range recs {
		if recs[i].MessageID == "" {
			recs[i].MessageID = messageID
		}
	}
	return nil
}

func (s *MemoryStore) ListToolCalls(ctx context.Context, sessionID string) ([]models.ToolCallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[sessionID]
	out := make([]models.ToolCallRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *MemoryStore) LatestCompletedToolCall(ctx context.Context, sessionID, toolName string) (*models.ToolCallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.records[sessionID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].ToolName == toolName && recs[i].Status == models.RecordCompleted {
			cp := recs[i]
			return &cp, nil
		}
	}
	return nil, ErrRecordNotFound
}
