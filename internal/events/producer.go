package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/pkg/models"
)

const (
	QuoteRequestedTopic     = "quote.requested"
	QuoteAcceptedTopic      = "quote.accepted"
	OrderStatusChangedTopic = "order.status_changed"
)

type QuoteRequestedEvent struct {
	RequestID   string    `json:"request_id"`
	RequesterID string    `json:"requester_id"`
	City        string    `json:"city"`
	ItemsTotal  float64   `json:"items_total"`
	ExpiresAt   time.Time `json:"expires_at"`
	EventTime   time.Time `json:"event_time"`
}

type QuoteAcceptedEvent struct {
	RequestID  string    `json:"request_id"`
	QuoteID    string    `json:"quote_id"`
	OrderID    string    `json:"order_id"`
	ProviderID string    `json:"provider_id"`
	Fee        float64   `json:"fee"`
	EventTime  time.Time `json:"event_time"`
}

type OrderStatusChangedEvent struct {
	OrderID    string            `json:"order_id"`
	RequestID  string            `json:"request_id"`
	ProviderID string            `json:"provider_id"`
	Status     models.OrderState `json:"status"`
	EventTime  time.Time         `json:"event_time"`
}

// Publisher is what the domain services see; it lets tests and local runs
// swap the Kafka producer for a no-op.
type Publisher interface {
	PublishQuoteRequested(event QuoteRequestedEvent) error
	PublishQuoteAccepted(event QuoteAcceptedEvent) error
	PublishOrderStatusChanged(event OrderStatusChangedEvent) error
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}

	return &KafkaProducer{
		producer: producer,
		logger:   logger,
	}, nil
}

func (p *KafkaProducer) PublishQuoteRequested(event QuoteRequestedEvent) error {
	event.EventTime = time.Now()
	return p.publish(QuoteRequestedTopic, event.RequestID, event)
}

func (p *KafkaProducer) PublishQuoteAccepted(event QuoteAcceptedEvent) error {
	event.EventTime = time.Now()
	return p.publish(QuoteAcceptedTopic, event.RequestID, event)
}

func (p *KafkaProducer) PublishOrderStatusChanged(event OrderStatusChangedEvent) error {
	event.EventTime = time.Now()
	return p.publish(OrderStatusChangedTopic, event.OrderID, event)
}

func (p *KafkaProducer) publish(topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"key":       key,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
