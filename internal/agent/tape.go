package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

// TapeSink writes stream events to a JSONL tape for debugging and replay.
// Each event is one JSON line, flushed immediately for crash safety.
type TapeSink struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File // non-nil if we opened the file ourselves
	redactor TapeRedactor
	header   *TapeHeader
	started  bool
}

// TapeHeader is the metadata line written at the top of a tape file.
type TapeHeader struct {
	Version   int       `json:"version"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// TapeRedactor may modify an event copy before serialization, e.g. to strip
// credentials from tool params.
type TapeRedactor func(e *models.StreamEvent)

// TapeOption configures a TapeSink.
type TapeOption func(*TapeSink)

// WithTapeRedactor sets a redactor applied to every event before writing.
func WithTapeRedactor(r TapeRedactor) TapeOption {
	return func(s *TapeSink) { s.redactor = r }
}

// NewTapeSink creates a tape sink writing to w.
func NewTapeSink(w io.Writer, sessionID string, opts ...TapeOption) *TapeSink {
	s := &TapeSink{
		writer: w,
		header: &TapeHeader{Version: 1, SessionID: sessionID, StartedAt: time.Now()},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTapeSinkFile creates a tape sink writing to path. The file is created or
// truncated; call Close when done.
func NewTapeSinkFile(path, sessionID string, opts ...TapeOption) (*TapeSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create tape file: %w", err)
	}
	s := NewTapeSink(f, sessionID, opts...)
	s.file = f
	return s, nil
}

func (s *TapeSink) Emit(ctx context.Context, e models.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		s.writeLine(s.header)
	}

	cp := e
	if s.redactor != nil {
		s.redactor(&cp)
	}
	s.writeLine(cp)
}

// writeLine is best effort: tape failures never interrupt the turn.
func (s *TapeSink) writeLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.writer.Write(data)
	s.writer.Write([]byte{'\n'})
}

// Close closes the tape file if this sink opened it.
func (s *TapeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// ReadTape parses a JSONL tape back into its header and event sequence.
// Unparseable lines are skipped so a truncated tail still replays.
func ReadTape(r io.Reader) (*TapeHeader, []models.StreamEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var header *TapeHeader
	var events []models.StreamEvent
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if header == nil {
			var h TapeHeader
			if err := json.Unmarshal(line, &h); err == nil && h.Version > 0 {
				header = &h
				continue
			}
			header = &TapeHeader{}
		}
		var e models.StreamEvent
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return header, events, fmt.Errorf("read tape: %w", err)
	}
	return header, events, nil
}
