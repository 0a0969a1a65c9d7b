// Package notify publishes job lifecycle events to the message broker.
// Consumers (push notifications, emails, analytics) live in other
// services; this side only fires and forgets.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mworkman/handypay/internal/job"
)

const (
	exchangeName   = "handypay.events"
	publishTimeout = 2 * time.Second
)

var notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "handypay",
	Subsystem: "notify",
	Name:      "events_published_total",
	Help:      "Lifecycle events published to the broker by event and result.",
}, []string{"event", "result"})

func init() {
	prometheus.MustRegister(notificationsTotal)
}

// Publisher sends raw event payloads. Close releases broker resources.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	Close() error
}

// AMQPPublisher publishes to a topic exchange on RabbitMQ.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

var _ Publisher = (*AMQPPublisher)(nil)

// NewAMQPPublisher connects to the broker and declares the events
// exchange.
func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: channel}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return p.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher discards events. Used when no broker is configured.
type NoopPublisher struct{}

var _ Publisher = NoopPublisher{}

func (NoopPublisher) Publish(ctx context.Context, routingKey string, body []byte) error { return nil }
func (NoopPublisher) Close() error                                                      { return nil }

// jobEventPayload is the wire shape of a lifecycle event.
type jobEventPayload struct {
	Event       string    `json:"event"`
	JobID       string    `json:"jobId"`
	CustomerID  string    `json:"customerId"`
	ProviderID  string    `json:"providerId,omitempty"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Emitter adapts a Publisher to the job service's notifier hook.
// Publishing failures are counted and logged, never propagated: a broker
// outage must not fail a job transition.
type Emitter struct {
	pub    Publisher
	logger *slog.Logger
}

var _ job.Notifier = (*Emitter)(nil)

func NewEmitter(pub Publisher, logger *slog.Logger) *Emitter {
	return &Emitter{pub: pub, logger: logger.With("component", "notify")}
}

// JobEvent publishes one lifecycle event. The routing key is the event
// name itself (job.created, job.completed, ...), so consumers bind with
// topic patterns like "job.*".
func (e *Emitter) JobEvent(event string, j *job.Job) {
	payload := jobEventPayload{
		Event:       event,
		JobID:       j.ID,
		CustomerID:  j.CustomerID,
		ProviderID:  j.ProviderID,
		Status:      string(j.Status),
		AmountCents: j.TotalCents(),
		Currency:    j.Currency,
		OccurredAt:  time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		notificationsTotal.WithLabelValues(event, "error").Inc()
		e.logger.Error("encoding event", "event", event, "jobId", j.ID, "error", err)
		return
	}

	if err := e.pub.Publish(context.Background(), event, body); err != nil {
		notificationsTotal.WithLabelValues(event, "error").Inc()
		e.logger.Warn("publishing event", "event", event, "jobId", j.ID, "error", err)
		return
	}
	notificationsTotal.WithLabelValues(event, "ok").Inc()
}
