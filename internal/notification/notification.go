package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	// KindSettlementCompleted is emitted once a settlement has committed.
	KindSettlementCompleted = "settlement.completed"
)

// Event describes a committed settlement for downstream consumers.
type Event struct {
	Kind          string          `json:"kind"`
	TransactionID string          `json:"transaction_id"`
	BlockID       string          `json:"block_id"`
	PayerID       string          `json:"payer_id"`
	PayeeID       string          `json:"payee_id"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// Notifier delivers events to downstream systems. Delivery happens after
// commit, so a failure never undoes a settlement.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the event to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, event Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", event.Kind,
		"transaction_id", event.TransactionID,
		"block_id", event.BlockID,
		"payee_id", event.PayeeID,
		"amount", event.Amount.StringFixed(2),
	)
	return nil
}

// MessageWriter is the subset of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events as JSON keyed by transaction id.
type KafkaNotifier struct {
	writer MessageWriter
}

// NewKafkaNotifier wraps a configured writer.
func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// Send publishes one event.
func (n *KafkaNotifier) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Kind, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// Fanout sends each event to every notifier and returns the first error.
type Fanout []Notifier

// Send delivers the event to all notifiers.
func (f Fanout) Send(ctx context.Context, event Event) error {
	var first error
	for _, n := range f {
		if err := n.Send(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}
