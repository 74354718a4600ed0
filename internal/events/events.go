// Package events publishes receipt status changes to downstream consumers.
// Publication is best-effort: the store is the record of truth, and a
// failed publish never undoes a committed transition.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/receipts/pkg/types"
)

// StatusChanged is emitted after a transition commits.
type StatusChanged struct {
	ReceiptID     string       `json:"receipt_id"`
	Number        string       `json:"number"`
	From          types.Status `json:"from"`
	To            types.Status `json:"to"`
	Event         types.Event  `json:"event"`
	Actor         string       `json:"actor"`
	ApplicationID string       `json:"application_id,omitempty"`
	TxRef         string       `json:"tx_ref,omitempty"`
	At            time.Time    `json:"at"`
}

// Publisher delivers status changes.
type Publisher interface {
	Publish(ctx context.Context, changes ...StatusChanged) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, ...StatusChanged) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes status changes keyed by receipt id, so every change to
// one receipt lands on the same partition in commit order.
type Kafka struct {
	w       MessageWriter
	timeout time.Duration
	logger  *zap.Logger
}

// KafkaConfig describes the topic to publish to.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
}

// NewKafka builds a publisher writing to cfg.Topic.
func NewKafka(cfg KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("events: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("events")
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
	}
	return NewKafkaWithWriter(w, cfg.Timeout, logger), nil
}

// NewKafkaWithWriter wraps an existing writer.
func NewKafkaWithWriter(w MessageWriter, timeout time.Duration, logger *zap.Logger) *Kafka {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kafka{w: w, timeout: timeout, logger: logger}
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, changes ...StatusChanged) error {
	if len(changes) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(changes))
	for _, c := range changes {
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal status change for %s: %w", c.ReceiptID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(c.ReceiptID),
			Value: data,
			Time:  c.At,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d status changes: %w", len(msgs), err)
	}
	k.logger.Debug("status changes published", zap.Int("count", len(msgs)))
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.w.Close() }
