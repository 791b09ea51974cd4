package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/graph/research"
	"github.com/haasonsaas/conductor/internal/sessions"
	"github.com/haasonsaas/conductor/pkg/models"
)

// sseStream writes stream events as server-sent event frames. Safe for
// concurrent emitters; frames are flushed individually.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	seq     uint64
}

func newSSEStream(w http.ResponseWriter) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseStream{w: w, flusher: flusher}, nil
}

// Emit implements agent.EventSink.
func (s *sseStream) Emit(_ context.Context, e models.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return
	}
	_, _ = s.w.Write(data)
	_, _ = s.w.Write([]byte("\n\n"))
	s.flusher.Flush()
}

// send builds and emits a gateway-originated event with its own sequence.
func (s *sseStream) send(ctx context.Context, sessionID string, eventType models.EventType, data map[string]any) {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	s.Emit(ctx, models.StreamEvent{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Sequence:  seq,
		Data:      data,
	})
}

type turnStreamRequest struct {
	Content string `json:"content"`
	UserID  string `json:"user_id"`
}

// handleTurnStream runs one agent turn for the session, streaming its events
// as SSE. The stream always terminates with a session.end frame.
func (s *Server) handleTurnStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req turnStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	if _, err := s.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("load session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	history, err := s.store.ListMessages(r.Context(), sessionID, s.config.Session.MaxHistoryMessages)
	if err != nil {
		s.logger.Error("load history failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	userMsg := models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateMessage(r.Context(), &userMsg); err != nil {
		s.logger.Error("persist user message failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist message")
		return
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
	}

	s.director.InitializeTask(sessionID, req.UserID, req.Content)

	var sink agent.EventSink = stream
	if s.tape != nil {
		sink = agent.NewMultiSink(stream, s.tape)
	}

	start := time.Now()
	result, err := s.loop.ProcessTurn(r.Context(), &agent.TurnRequest{
		SessionID:    sessionID,
		UserID:       req.UserID,
		Messages:     append(history, userMsg),
		EnabledTools: s.config.EnabledToolSet(),
		Sink:         sink,
		StartTime:    start,
	})
	if err != nil {
		s.logger.Error("turn failed", "session_id", sessionID, "error", err)
		if s.metrics != nil {
			s.metrics.RecordTurn("error", time.Since(start).Seconds())
		}
	} else if s.metrics != nil {
		s.metrics.RecordTurn(string(result.FinishReason), time.Since(start).Seconds())
	}

	stream.send(r.Context(), sessionID, models.EventSessionEnd, nil)
}

type researchStreamRequest struct {
	Prompt    string `json:"prompt"`
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// graphObserver streams graph lifecycle callbacks as agent.* events.
type graphObserver struct {
	stream    *sseStream
	sessionID string
	metrics   func(node, status string)
}

func (o *graphObserver) OnStart(entry string) {
	o.stream.send(context.Background(), o.sessionID, models.EventGraphStart, map[string]any{"entry": entry})
}

func (o *graphObserver) OnNode(id string) {
	o.stream.send(context.Background(), o.sessionID, models.EventGraphNode, map[string]any{"node": id})
	if o.metrics != nil {
		o.metrics(id, "success")
	}
}

func (o *graphObserver) OnError(id string, err error) {
	o.stream.send(context.Background(), o.sessionID, models.EventGraphError, map[string]any{"node": id, "error": err.Error()})
	if o.metrics != nil {
		o.metrics(id, "error")
	}
}

// handleResearchStream runs the research scenario graph, streaming node
// lifecycle events and finishing with the final report and session.end.
func (s *Server) handleResearchStream(w http.ResponseWriter, r *http.Request) {
	var req researchStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Prompt == "" && req.Query == "") {
		writeError(w, http.StatusBadRequest, "prompt or query is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	stream, err := newSSEStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.StreamOpened()
		defer s.metrics.StreamClosed()
	}

	observer := &graphObserver{stream: stream, sessionID: req.SessionID}
	if s.metrics != nil {
		observer.metrics = s.metrics.RecordGraphNode
	}

	state := &research.State{
		SessionID:         req.SessionID,
		UserPrompt:        req.Prompt,
		SearchQuery:       req.Query,
		MaxRecallAttempts: s.config.Scenario.MaxRecallAttempts,
	}
	result := s.research(observer).Run(r.Context(), state)

	stream.send(r.Context(), req.SessionID, models.EventMessageComplete, map[string]any{
		"content": result.State.FinalReport,
		"status":  string(result.State.Status),
		"path":    result.Path,
	})
	stream.send(r.Context(), req.SessionID, models.EventSessionEnd, nil)
}
