package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// producer is the subset of *kafka.Producer the notifier uses.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

type KafkaNotifier struct {
	producer producer
	topic    string
}

func NewKafkaNotifier(brokers, topic string) (*KafkaNotifier, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newKafkaNotifier(p, topic), nil
}

func newKafkaNotifier(p producer, topic string) *KafkaNotifier {
	n := &KafkaNotifier{producer: p, topic: topic}
	go n.deliveryReports()
	return n
}

// deliveryReports drains the producer's event channel until Close.
func (n *KafkaNotifier) deliveryReports() {
	for e := range n.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				zap.L().Error("Alert delivery failed",
					zap.String("topic", n.topic),
					zap.Error(ev.TopicPartition.Error))
			}
		case kafka.Error:
			zap.L().Warn("Kafka producer error", zap.Error(ev))
		}
	}
}

func (n *KafkaNotifier) Notify(_ context.Context, alert Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	topic := n.topic
	return n.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(alert.Kind),
		Value:          value,
	}, nil)
}

// Close flushes pending alerts for up to five seconds.
func (n *KafkaNotifier) Close() {
	if remaining := n.producer.Flush(5000); remaining > 0 {
		zap.L().Warn("Alerts not delivered before shutdown", zap.Int("remaining", remaining))
	}
	n.producer.Close()
}
