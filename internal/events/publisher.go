// Package events publishes transcription lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/echolog/echolog-server/internal/metrics"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
)

// Event types.
const (
	TypeSubmitted = "transcription.submitted"
	TypeCompleted = "transcription.completed"
	TypeFailed    = "transcription.failed"
	TypeDeleted   = "transcription.deleted"
)

// Event describes one transcription state change.
type Event struct {
	Type            string    `json:"type"`
	UserID          uint64    `json:"userId"`
	RecordingID     uint64    `json:"recordingId,omitempty"`
	TranscriptionID string    `json:"transcriptionId,omitempty"`
	JobName         string    `json:"jobName,omitempty"`
	Source          string    `json:"source,omitempty"`
	Error           string    `json:"error,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Emitter is what the transcription workflow depends on.
type Emitter interface {
	Publish(ctx context.Context, event Event) error
}

// Config holds Kafka publisher configuration.
type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to one topic, or only logs them when Kafka is disabled.
type Publisher struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// New creates a publisher. A disabled config yields a log-only publisher.
func New(cfg Config) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info("kafka disabled, events are logged only")
		return &Publisher{topic: cfg.Topic, now: time.Now}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    &kafka.Transport{Dial: dialer.DialFunc},
	}
	log.WithFields(log.Fields{"brokers": cfg.Brokers, "topic": cfg.Topic}).Info("kafka publisher initialized")
	return &Publisher{writer: writer, topic: cfg.Topic, now: time.Now}
}

// Publish serializes event keyed by user so one user's events stay ordered.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = p.now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).WithField("type", event.Type).Error("failed to marshal event")
		return err
	}
	key := strconv.FormatUint(event.UserID, 10)

	log.WithFields(log.Fields{"topic": p.topic, "key": key, "type": event.Type}).Debug("publishing event")
	if p.writer == nil {
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(event.Type)},
		},
	}
	return metrics.ObserveErr("kafka", "publish", func() error {
		if errWrite := p.writer.WriteMessages(ctx, msg); errWrite != nil {
			log.WithError(errWrite).WithFields(log.Fields{"topic": p.topic, "type": event.Type}).Error("failed to write to kafka")
			return errWrite
		}
		return nil
	})
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// Nop drops every event.
type Nop struct{}

// Publish implements Emitter.
func (Nop) Publish(context.Context, Event) error { return nil }
