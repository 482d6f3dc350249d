package events

import (
	"context"
	"encoding/json"
	"reflect"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/customeros/mailreader/dto"
	"github.com/customeros/mailreader/internal/enum"
	"github.com/customeros/mailreader/internal/tracing"
	"github.com/customeros/mailreader/internal/utils"
)

const (
	ExchangeMailreader = "mailreader"
	ExchangeDeadLetter = "dead-letter"

	QueueMailreader = "events-mailreader"
	DLQMailreader   = QueueMailreader + "-dlq"

	RoutingKeyDeadLetter = "dead-letter"

	DefaultMessageTTL          = 240 * time.Hour // after TTL message moves to DLQ
	DefaultMaxRetries          = 3
	DefaultPublishTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second

	retryStep = 100 * time.Millisecond
)

type PublisherConfig struct {
	MessageTTL          time.Duration
	MaxRetries          int
	PublishTimeout      time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		MessageTTL:          DefaultMessageTTL,
		MaxRetries:          DefaultMaxRetries,
		PublishTimeout:      DefaultPublishTimeout,
		ReconnectBackoff:    DefaultReconnectBackoff,
		MaxReconnectBackoff: DefaultMaxReconnectBackoff,
	}
}

// withDefaults fills zero fields so a partial config stays usable.
func (c PublisherConfig) withDefaults() PublisherConfig {
	d := DefaultPublisherConfig()
	if c.MessageTTL <= 0 {
		c.MessageTTL = d.MessageTTL
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = d.PublishTimeout
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = d.ReconnectBackoff
	}
	if c.MaxReconnectBackoff < c.ReconnectBackoff {
		c.MaxReconnectBackoff = max(d.MaxReconnectBackoff, c.ReconnectBackoff)
	}
	return c
}

// PublishFanoutEvent wraps message in an event envelope and publishes it on
// the mailreader fanout exchange.
func (r *RabbitMQPublisher) PublishFanoutEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.PublishFanoutEvent")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagComponentPublisher(span)

	event := newEvent(ctx, entityId, entityType, message, tracing.ExtractTextMapCarrier(span.Context()))
	tracing.LogObjectAsJson(span, "event", event)

	body, err := json.Marshal(event)
	if err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrap(err, "marshal event")
	}

	if err := r.publishWithRetry(ctx, ExchangeMailreader, body); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func newEvent(ctx context.Context, entityId string, entityType enum.EntityType, message interface{}, tracingData opentracing.TextMapCarrier) dto.Event {
	messageType := reflect.TypeOf(message)
	if messageType.Kind() == reflect.Ptr {
		messageType = messageType.Elem()
	}

	return dto.Event{
		Event: dto.EventDetails{
			Id:         utils.GenerateNanoIDWithPrefix("event", 21),
			Identity:   utils.GetIdentityFromContext(ctx),
			EntityId:   entityId,
			EntityType: entityType,
			EventType:  messageType.Name(),
			Data:       message,
		},
		Metadata: dto.EventMetadata{
			UberTraceId: tracingData["uber-trace-id"],
			AppSource:   utils.GetAppSourceFromContext(ctx),
			RequestId:   utils.GetRequestIdFromContext(ctx),
			Timestamp:   utils.Now().Format(time.RFC3339),
		},
	}
}

func (r *RabbitMQPublisher) publishWithRetry(ctx context.Context, exchange string, body []byte) error {
	attempts := max(r.config.MaxRetries, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = r.publishWithConfirm(ctx, exchange, body); err == nil {
			return nil
		}
		if errors.Is(err, errPublisherClosed) {
			return err
		}
		r.logger.Warnf("Publish attempt %d to %s failed: %v", attempt, exchange, err)
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryStep * time.Duration(attempt)):
		}
	}

	return errors.Wrapf(err, "publish to %s failed after %d attempts", exchange, attempts)
}

// publishWithConfirm publishes one message and blocks until the broker acks
// it or the publish timeout elapses.
func (r *RabbitMQPublisher) publishWithConfirm(ctx context.Context, exchange string, body []byte) error {
	channel, err := r.publishChannel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
	defer cancel()

	confirm, err := channel.PublishWithDeferredConfirmWithContext(ctx, exchange, "", false, false, amqp091.Publishing{
		DeliveryMode: amqp091.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    utils.Now(),
	})
	if err != nil {
		return errors.Wrap(err, "publish")
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrap(err, "wait for publish confirmation")
	}
	if !acked {
		return errors.New("message was nacked by the broker")
	}
	return nil
}
