package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Envelope is the AMQP message body.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// Meta describes an envelope.
type Meta struct {
	// Trace id of the producing request, when there is one.
	CorrelationID *string `json:"correlation_id,omitempty"`
	// Unique event id.
	ID string `json:"id"`
	// Emitting service.
	Producer *string `json:"producer,omitempty"`
	// Time the event was emitted.
	Time time.Time `json:"time"`
	// Routing key, e.g. wa.document_processed.
	Type string `json:"type"`
	// Chat topic of the event.
	ChatID string `json:"chat_id"`
}

// AMQPPublisher mirrors hub events to a durable topic exchange.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	producer string
}

// AMQP dial retry parameters.
const (
	dialAttempts = 5
	dialDelay    = 500 * time.Millisecond
	maxDialDelay = 30 * time.Second
)

// NewAMQPPublisher dials url (retrying with exponential backoff), declares
// exchange as a durable topic exchange and returns a publisher.
func NewAMQPPublisher(ctx context.Context, url, exchange, producer string) (*AMQPPublisher, error) {
	conn, err := dialWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, exchange: exchange, producer: producer}, nil
}

func dialWithRetry(ctx context.Context, url string) (*amqp091.Connection, error) {
	var lastErr error
	for i := 1; i <= dialAttempts; i++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			if i > 1 {
				log.Info().Int("attempt", i).Msg("amqp connected")
			}
			return conn, nil
		}
		lastErr = err

		sleep := dialDelay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		log.Warn().Err(err).Int("attempt", i).Dur("sleep", sleep).Msg("amqp dial failed")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("amqp dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("amqp: connect after %d attempts: %w", dialAttempts, lastErr)
}

// RoutingKey returns the routing key used for an event type.
func RoutingKey(eventType string) string { return "wa." + eventType }

func envelopeFor(ctx context.Context, ev Event, producer string) Envelope {
	env := Envelope{
		Meta: Meta{
			ID:     uuid.NewString(),
			Time:   ev.Time,
			Type:   RoutingKey(ev.Type),
			ChatID: ev.Topic,
		},
		Data: ev.Data,
	}
	if env.Meta.Time.IsZero() {
		env.Meta.Time = time.Now().UTC()
	}
	if producer != "" {
		p := producer
		env.Meta.Producer = &p
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		tid := sc.TraceID().String()
		env.Meta.CorrelationID = &tid
	}
	return env
}

// Publish sends ev as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	env := envelopeFor(ctx, ev, p.producer)
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	cid := env.Meta.ID
	if env.Meta.CorrelationID != nil {
		cid = *env.Meta.CorrelationID
	}

	key := RoutingKey(ev.Type)
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: cid,
		Timestamp:     env.Meta.Time,
		Body:          body,
	})
	if err == nil {
		log.Debug().Str("key", key).Str("exchange", p.exchange).Msg("published")
	}
	return err
}

// Close closes the AMQP connection.
func (p *AMQPPublisher) Close() error { return p.conn.Close() }
