// Package kafkasink publishes goSession audit events to a Kafka topic.
//
// Events are JSON encoded and keyed by session handle so every event of one
// session lands on the same partition in order.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	goSession "github.com/MrEthical07/goSession"
)

const writeTimeout = 5 * time.Second

// ErrNoBrokers is returned by New when brokers or topic are missing.
var ErrNoBrokers = errors.New("kafka brokers and topic are required")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink implements [goSession.AuditSink]. Write failures are logged and the
// event is dropped; audit delivery never fails a session operation.
type Sink struct {
	writer messageWriter
	logger *slog.Logger
}

// New returns a Sink writing to topic on brokers. Call Close on shutdown.
func New(brokers []string, topic string, logger *slog.Logger) (*Sink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, ErrNoBrokers
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newSink(writer, logger), nil
}

func newSink(writer messageWriter, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{writer: writer, logger: logger}
}

// Emit implements [goSession.AuditSink].
func (s *Sink) Emit(ctx context.Context, event goSession.AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("kafkasink: encode audit event failed", "event_type", event.EventType, "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err = s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
	if err != nil {
		s.logger.Warn("kafkasink: emit failed", "event_type", event.EventType, "session_id", event.SessionID, "error", err)
	}
}

// Close flushes pending messages and closes the writer. Safe to call on nil.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}

var _ goSession.AuditSink = (*Sink)(nil)
