package kafka

import (
	"github.com/vasilkosturski/orderflow/internal/config"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// NewProducer builds a traced writer for topic. Messages are hashed by key so
// every event of one order lands on the same partition.
func NewProducer(broker, topic, clientID string, tp trace.TracerProvider) (Producer, error) {
	baseWriter := &kafkago.Writer{
		Addr:         kafkago.TCP(broker),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: config.BatchTimeout,
		BatchSize:    config.BatchSize,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", clientID),
			},
		),
	)
	if err != nil {
		return nil, err
	}
	return writer, nil
}

// NewConsumer builds a traced, auto-committing reader.
func NewConsumer(broker, topic, groupID string) (Consumer, error) {
	reader, err := otelkafka.NewReader(kafkago.NewReader(readerConfig(broker, topic, groupID)))
	if err != nil {
		return nil, err
	}
	return reader, nil
}

// NewCommittingConsumer builds a reader whose offsets only advance on CommitMessages.
func NewCommittingConsumer(broker, topic, groupID string) CommittingConsumer {
	return kafkago.NewReader(readerConfig(broker, topic, groupID))
}

func readerConfig(broker, topic, groupID string) kafkago.ReaderConfig {
	return kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafkago.FirstOffset,
	}
}
