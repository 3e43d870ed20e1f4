package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"call-insights/internal/metrics"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicAnalyzed string
	TopicFailed   string
	Principal     string
	Enabled       bool
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes call events to one Kafka topic per event type.
// With Kafka disabled it only logs.
type Publisher struct {
	writers   map[Type]messageWriter
	topics    map[Type]string
	principal string
	enabled   bool
	log       *slog.Logger
	metrics   *metrics.Metrics
}

func New(cfg Config, log *slog.Logger, m *metrics.Metrics) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		topics: map[Type]string{
			TypeCallAnalyzed: cfg.TopicAnalyzed,
			TypeCallFailed:   cfg.TopicFailed,
		},
		principal: cfg.Principal,
		log:       log,
		metrics:   m,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info("kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution inside clusters.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	p.writers = map[Type]messageWriter{}
	for t, topic := range p.topics {
		p.writers[t] = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}
	p.enabled = true

	log.Info("kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic_analyzed", cfg.TopicAnalyzed,
		"topic_failed", cfg.TopicFailed,
		"principal", cfg.Principal,
	)
	return p
}

// Publish keys messages by call id so one call's events stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, e CallEvent) error {
	start := time.Now()
	topic, ok := p.topics[e.Type]
	if !ok {
		return fmt.Errorf("unknown event type %q", e.Type)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to marshal event", "topic", topic, "error", err)
		return err
	}

	p.log.DebugContext(ctx, "publishing event",
		"principal", p.principal,
		"topic", topic,
		"call_id", e.CallID,
		"type", e.Type,
	)

	w := p.writers[e.Type]
	if !p.enabled || w == nil {
		p.metrics.EventPublished(topic, nil, time.Since(start))
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(e.CallID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(e.Type)},
			{Key: "principal", Value: []byte(p.principal)},
			{Key: "workspaceId", Value: []byte(e.WorkspaceID)},
		},
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		p.log.ErrorContext(ctx, "failed to write to kafka", "topic", topic, "call_id", e.CallID, "error", err)
		p.metrics.EventPublished(topic, err, time.Since(start))
		return err
	}
	p.metrics.EventPublished(topic, nil, time.Since(start))
	return nil
}

// Close closes every writer and returns the last error.
func (p *Publisher) Close() error {
	var err error
	for t, w := range p.writers {
		if e := w.Close(); e != nil {
			p.log.Error("error closing kafka writer", "type", t, "error", e)
			err = e
		}
	}
	return err
}
