// Package events publishes finalized transcript utterances to Kafka for
// downstream analysis pipelines.
//
// Publishing is fire-and-forget from the call path's perspective: a broker
// outage degrades to log-only behaviour and never blocks reconciliation.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/verbatim-labs/verbatim/internal/resilience"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// FinalUtterance is the wire payload published for each finalized utterance.
type FinalUtterance struct {
	SessionID string    `json:"session_id"`
	ID        string    `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher writes finalized utterances to a Kafka topic. When disabled it
// runs in log-only mode, so the rest of the engine never branches on
// whether Kafka is configured.
type Publisher struct {
	writer  *kafka.Writer
	breaker *resilience.Breaker
	topic   string
	logger  *slog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	// Brokers is the Kafka bootstrap address list.
	Brokers []string

	// Topic receives the finalized utterance events.
	Topic string

	// Enabled turns real publishing on. When false the publisher only logs.
	Enabled bool

	// Logger defaults to [slog.Default] when nil.
	Logger *slog.Logger
}

// New creates a Kafka publisher. With publishing disabled or no brokers
// configured it returns a log-only publisher.
func New(cfg Config) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("kafka publishing disabled, using log-only mode")
		return &Publisher{topic: cfg.Topic, logger: logger}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info("kafka publisher initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
	)
	return &Publisher{
		writer: writer,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:   "kafka",
			Logger: logger,
		}),
		topic:  cfg.Topic,
		logger: logger,
	}
}

// PublishFinal publishes one finalized utterance, keyed by session id so a
// session's events land on one partition in order.
func (p *Publisher) PublishFinal(ctx context.Context, sessionID string, u types.Utterance) error {
	payload, err := json.Marshal(FinalUtterance{
		SessionID: sessionID,
		ID:        u.ID,
		Speaker:   string(u.Speaker),
		Text:      u.Text,
		CreatedAt: u.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}

	if p.writer == nil {
		p.logger.Debug("final utterance (kafka disabled)",
			"session_id", sessionID,
			"utterance_id", u.ID,
		)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
	}
	err = p.breaker.Execute(func() error {
		return p.writer.WriteMessages(ctx, msg)
	})
	if errors.Is(err, resilience.ErrOpen) {
		// A downed broker must not slow down reconciliation. Events are
		// dropped until the breaker's probe finds the broker healthy again.
		p.logger.Debug("kafka publish skipped, breaker open",
			"topic", p.topic,
			"session_id", sessionID,
		)
		return nil
	}
	if err != nil {
		p.logger.Warn("kafka publish failed",
			"topic", p.topic,
			"session_id", sessionID,
			"error", err,
		)
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

// Close releases the Kafka writer. Safe on a log-only publisher.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
