package agent

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

func TestTapeSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	sink := NewTapeSink(&buf, "s1")

	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	sink.Emit(ctx, models.StreamEvent{Type: models.EventMessageStart, SessionID: "s1", Timestamp: at})
	sink.Emit(ctx, models.StreamEvent{
		Type:      models.EventToolStart,
		SessionID: "s1",
		Timestamp: at.Add(time.Second),
		Data:      map[string]any{"toolCallId": "tc-1", "name": "web_search"},
	})

	header, events, err := ReadTape(&buf)
	if err != nil {
		t.Fatalf("ReadTape: %v", err)
	}
	if header == nil || header.Version != 1 || header.SessionID != "s1" {
		t.Errorf("header = %+v", header)
	}
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != models.EventMessageStart || !events[0].Timestamp.Equal(at) {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Data["name"] != "web_search" {
		t.Errorf("second event data = %v", events[1].Data)
	}
}

func TestTapeSinkRedactor(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	sink := NewTapeSink(&buf, "s1", WithTapeRedactor(func(e *models.StreamEvent) {
		if e.Data != nil {
			delete(e.Data, "apiKey")
		}
	}))

	sink.Emit(ctx, models.StreamEvent{
		Type: models.EventToolStart,
		Data: map[string]any{"apiKey": "sk-secret", "name": "echo"},
	})
	if strings.Contains(buf.String(), "sk-secret") {
		t.Error("redacted field written to tape")
	}

	_, events, err := ReadTape(&buf)
	if err != nil {
		t.Fatalf("ReadTape: %v", err)
	}
	if events[0].Data["name"] != "echo" {
		t.Errorf("event data = %v", events[0].Data)
	}
}

func TestReadTapeSkipsCorruptLines(t *testing.T) {
	tape := `{"version":1,"session_id":"s1","started_at":"2026-01-02T15:04:05Z"}
{"type":"message.start","sessionId":"s1"}
this line is garbage
{"type":"message.complete","sessionId":"s1"}
{"type":"message.delta","sess`
	header, events, err := ReadTape(strings.NewReader(tape))
	if err != nil {
		t.Fatalf("ReadTape: %v", err)
	}
	if header.SessionID != "s1" {
		t.Errorf("header = %+v", header)
	}
	if len(events) != 2 || events[1].Type != models.EventMessageComplete {
		t.Errorf("events = %+v", events)
	}
}

func TestReadTapeWithoutHeader(t *testing.T) {
	tape := `{"type":"message.start","sessionId":"s1"}
{"type":"message.complete","sessionId":"s1"}`
	header, events, err := ReadTape(strings.NewReader(tape))
	if err != nil {
		t.Fatalf("ReadTape: %v", err)
	}
	if header == nil || header.Version != 0 {
		t.Errorf("header = %+v", header)
	}
	if len(events) != 2 {
		t.Errorf("events = %+v", events)
	}
}
