package kafkasink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	goSession "github.com/MrEthical07/goSession"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestNewRequiresBrokersAndTopic(t *testing.T) {
	if _, err := New(nil, "audit", nil); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
	if _, err := New([]string{"localhost:9092"}, "", nil); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}

	sink, err := New([]string{"localhost:9092"}, "audit", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEmitKeysBySessionHandle(t *testing.T) {
	w := &fakeWriter{}
	sink := newSink(w, nil)

	ts := time.Unix(1_700_000_000, 0).UTC()
	sink.Emit(context.Background(), goSession.AuditEvent{
		Timestamp: ts,
		EventType: "refresh_theft_detected",
		UserID:    "u1",
		SessionID: "h1",
		Error:     "token_theft",
	})

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "h1" {
		t.Fatalf("key = %q, want session handle", msg.Key)
	}
	if !msg.Time.Equal(ts) {
		t.Fatalf("message time %v, want %v", msg.Time, ts)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "refresh_theft_detected" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}

	var decoded goSession.AuditEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("payload is not an audit event: %v", err)
	}
	if decoded.UserID != "u1" || decoded.Error != "token_theft" {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestEmitLogsWriteFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	w := &fakeWriter{err: errors.New("broker down")}
	sink := newSink(w, logger)

	sink.Emit(context.Background(), goSession.AuditEvent{EventType: "session_created", SessionID: "h1"})

	if !strings.Contains(buf.String(), "broker down") {
		t.Fatalf("expected write failure to be logged, got %q", buf.String())
	}
}

func TestNilSinkIsSafe(t *testing.T) {
	var sink *Sink
	sink.Emit(context.Background(), goSession.AuditEvent{EventType: "x"})
	if err := sink.Close(); err != nil {
		t.Fatalf("Close on nil sink: %v", err)
	}
}
