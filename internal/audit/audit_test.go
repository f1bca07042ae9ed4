package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestJSONWriterSinkWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{EventType: "session_created", UserID: "u1", SessionID: "h1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "session_revoked", SessionID: "h1", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.EventType != "session_created" || ev.UserID != "u1" || ev.SessionID != "h1" || !ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{Timestamp: time.Unix(10, 0), EventType: "refresh_success", SessionID: "h1", Success: true})
	sink.Emit(context.Background(), Event{EventType: "refresh_unauthorised", SessionID: "h1", Error: "session_not_found"})
	sink.Emit(context.Background(), Event{EventType: "refresh_theft_detected", SessionID: "h1", Error: TheftErrorCode, Metadata: map[string]string{"generation": "3"}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 records, got %d", len(lines))
	}

	wantLevels := []string{"INFO", "WARN", "ERROR"}
	wantMsgs := []string{"refresh_success", "refresh_unauthorised", "refresh_theft_detected"}
	for i, line := range lines {
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if rec["level"] != wantLevels[i] {
			t.Fatalf("record %d level=%v want %s", i, rec["level"], wantLevels[i])
		}
		if rec["msg"] != wantMsgs[i] {
			t.Fatalf("record %d msg=%v want %s", i, rec["msg"], wantMsgs[i])
		}
		if rec["session_id"] != "h1" {
			t.Fatalf("record %d missing session_id: %v", i, rec)
		}
	}

	var theft map[string]any
	_ = json.Unmarshal([]byte(lines[2]), &theft)
	if theft["generation"] != "3" {
		t.Fatalf("metadata not flattened into attrs: %v", theft)
	}
}

func TestChannelSinkRespectsContext(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(context.Background(), Event{EventType: "first"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		sink.Emit(ctx, Event{EventType: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit on full channel must return when ctx is cancelled")
	}
	if got := (<-sink.Events()).EventType; got != "first" {
		t.Fatalf("expected first event, got %q", got)
	}
}
