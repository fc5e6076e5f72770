package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/gitshopapp/checkout/internal/models"
)

const (
	EventPaymentApproved = "payment.approved"
	EventPaymentFailed   = "payment.failed"
	EventStockLow        = "stock.low"
)

// PaymentEvent is the JSON value published for every notification.
type PaymentEvent struct {
	ID            string               `json:"id"`
	Type          string               `json:"type"`
	OrderNumber   string               `json:"order_number,omitempty"`
	PaymentStatus models.PaymentStatus `json:"payment_status,omitempty"`
	Status        models.OrderStatus   `json:"status,omitempty"`
	Total         string               `json:"total,omitempty"`
	BillingEmail  string               `json:"billing_email,omitempty"`
	Items         []models.StockLevel  `json:"items,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// KafkaNotifier publishes notifications to a topic keyed by order number.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
	now      func() time.Time
}

// NewKafkaProducer builds an idempotent synchronous producer.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	config := sarama.NewConfig()
	config.ClientID = "checkout"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string, logger *slog.Logger) (*KafkaNotifier, error) {
	if producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger.With("component", "notify_kafka"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (n *KafkaNotifier) PaymentApproved(ctx context.Context, order *models.Order) error {
	return n.publish(ctx, n.orderEvent(EventPaymentApproved, order))
}

func (n *KafkaNotifier) PaymentFailed(ctx context.Context, order *models.Order) error {
	return n.publish(ctx, n.orderEvent(EventPaymentFailed, order))
}

func (n *KafkaNotifier) LowStock(ctx context.Context, items []models.StockLevel) error {
	if len(items) == 0 {
		return nil
	}
	return n.publish(ctx, PaymentEvent{
		ID:         uuid.NewString(),
		Type:       EventStockLow,
		Items:      items,
		OccurredAt: n.now(),
	})
}

func (n *KafkaNotifier) Close() error {
	if err := n.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) orderEvent(eventType string, order *models.Order) PaymentEvent {
	return PaymentEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderNumber:   order.OrderNumber,
		PaymentStatus: order.PaymentStatus,
		Status:        order.Status,
		Total:         order.Total.StringFixed(2),
		BillingEmail:  order.BillingEmail,
		OccurredAt:    n.now(),
	}
}

func (n *KafkaNotifier) publish(ctx context.Context, event PaymentEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     n.topic,
		Value:     sarama.ByteEncoder(value),
		Timestamp: event.OccurredAt,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}
	if event.OrderNumber != "" {
		msg.Key = sarama.StringEncoder(event.OrderNumber)
	}

	partition, offset, err := n.producer.SendMessage(msg)
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to send message to kafka", "topic", n.topic, "type", event.Type, "error", err)
		return fmt.Errorf("failed to send message: %w", err)
	}
	n.logger.DebugContext(ctx, "message sent to kafka",
		"topic", n.topic,
		"type", event.Type,
		"partition", partition,
		"offset", offset,
	)
	return nil
}
