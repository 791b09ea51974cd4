package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/pkg/models"
)

type createSessionRequest struct {
	OwnerID   string `json:"owner_id"`
	Title     string `json:"title"`
	Workspace string `json:"workspace"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	now := time.Now()
	sess := &models.Session{
		ID:           uuid.NewString(),
		OwnerID:      req.OwnerID,
		Workspace:    req.Workspace,
		Title:        req.Title,
		Status:       models.SessionActive,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateSession(r.Context(), sess); err != nil {
		s.logger.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if s.metrics != nil {
		s.metrics.SessionCounter.WithLabelValues("created").Inc()
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListSessions(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("delete session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	s.director.ClearTask(id)
	if s.metrics != nil {
		s.metrics.SessionCounter.WithLabelValues("ended").Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := s.config.Session.MaxHistoryMessages
	msgs, err := s.store.ListMessages(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.logger.Error("list messages failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleListToolCalls(w http.ResponseWriter, r *http.Request) {
	recs, err := s.records.ListToolCalls(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("list tool calls failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list tool calls")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tool_calls": recs})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
