package messaging

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var producerTracer = otel.Tracer("messaging/producer")

// HeaderEventID carries the outbox event id so consumers can drop redeliveries.
const HeaderEventID = "event_id"

// Message is an already encoded event bound for a topic.
type Message struct {
	Topic   string
	Key     string
	EventID string
	Value   []byte
}

// Publisher delivers messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Producer struct {
	writer *kafka.Writer
}

// NewProducer returns a producer that writes to whichever topic each message names.
func NewProducer(brokers []string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           100 * time.Millisecond,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, m Message) error {
	msg := kafka.Message{
		Topic: m.Topic,
		Key:   []byte(m.Key),
		Value: m.Value,
	}
	if m.EventID != "" {
		carrierFor(&msg).Set(HeaderEventID, m.EventID)
	}

	ctx, span := producerTracer.Start(ctx, "send "+m.Topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(m.Topic),
			semconv.MessagingKafkaMessageKey(m.Key),
			semconv.MessagingMessageID(m.EventID),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, carrierFor(&msg))

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
