package messaging

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/richardliu001/order-choreography/internal/messaging")

// deliver runs h until it succeeds, waiting backoff between attempts. It
// reports false if ctx ended first, in which case the message stays unacknowledged.
func deliver(ctx context.Context, queue string, msg Message, h Handler, backoff time.Duration, log *zap.SugaredLogger) bool {
	for attempt := 1; ; attempt++ {
		err := dispatch(ctx, queue, msg, h, log)
		if err == nil {
			return true
		}
		log.Warnw("handler failed, message requeued",
			"queue", queue, "kind", msg.Kind, "key", msg.Key, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
	}
}

func dispatch(ctx context.Context, queue string, msg Message, h Handler, log *zap.SugaredLogger) (err error) {
	// an unreadable kind is left empty; handlers drop kinds they do not know
	if kerr := ResolveKind(&msg); kerr != nil {
		log.Debugw("message kind unreadable", "queue", queue, "key", msg.Key, "body_size", len(msg.Body), "error", kerr)
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
	ctx, span := tracer.Start(ctx, "consume "+string(msg.Kind),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.routing_key", msg.RoutingKey),
			attribute.String("messaging.message.key", msg.Key),
		))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return h(ctx, msg)
}
