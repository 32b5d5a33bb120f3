package messaging

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/richardliu001/order-choreography/internal/config"
	"github.com/richardliu001/order-choreography/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher maps an exchange to a topic. The aggregate id is the message
// key so one order's events land on one partition in order.
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.SugaredLogger
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.SugaredLogger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Transport:              &kafka.Transport{ClientID: cfg.ClientID},
	}
	return &KafkaPublisher{writer: w, log: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, route Route, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		m, err := Encode(route, e)
		if err != nil {
			return err
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(m.Headers))
		msgs = append(msgs, toKafka(route.Exchange, m, e.Timestamp))
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish to %s: %w", route.Exchange, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// KafkaConsumer reads a subscription as a consumer group named after the queue.
// Offsets are committed only after the handler succeeded; a failing message is
// retried in place, which keeps at most one unacknowledged message in flight.
type KafkaConsumer struct {
	backoff   time.Duration
	log       *zap.SugaredLogger
	newReader func(sub Subscription) messageReader
}

func NewKafkaConsumer(cfg config.KafkaConfig, logger *zap.SugaredLogger) *KafkaConsumer {
	return &KafkaConsumer{
		backoff: cfg.RetryBackoff,
		log:     logger,
		newReader: func(sub Subscription) messageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:     cfg.Brokers,
				GroupID:     sub.Queue,
				Topic:       sub.Exchange,
				MinBytes:    1,
				MaxBytes:    10e6,
				StartOffset: kafka.FirstOffset,
				Dialer:      &kafka.Dialer{ClientID: cfg.ClientID, Timeout: 10 * time.Second, DualStack: true},
			})
		},
	}
}

func (c *KafkaConsumer) Consume(ctx context.Context, sub Subscription, h Handler) error {
	r := c.newReader(sub)
	defer r.Close()

	c.log.Infof("consuming %s from %s with keys %v", sub.Queue, sub.Exchange, sub.RoutingKeys)
	for {
		km, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", sub.Exchange, err)
		}

		msg := fromKafka(km)
		if sub.Binds(msg.RoutingKey) {
			if !deliver(ctx, sub.Queue, msg, h, c.backoff, c.log) {
				return nil
			}
		}
		if err := r.CommitMessages(ctx, km); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit %s[%d]@%d: %w", km.Topic, km.Partition, km.Offset, err)
		}
	}
}

func toKafka(topic string, m Message, at time.Time) kafka.Message {
	keys := make([]string, 0, len(m.Headers))
	for k := range m.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	headers := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(m.Headers[k])})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(m.Key),
		Value:   m.Body,
		Headers: headers,
		Time:    at,
	}
}

func fromKafka(km kafka.Message) Message {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Kind:       domain.Kind(headers[HeaderKind]),
		RoutingKey: headers[HeaderRoutingKey],
		Key:        string(km.Key),
		Body:       km.Value,
		Headers:    headers,
	}
}
