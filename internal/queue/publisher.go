package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"slide_analyzer/internal/observability"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	RoutingKeyCompleted = "task.completed"
	RoutingKeyFailed    = "task.failed"
)

// TaskEvent is published when an analysis task reaches a terminal state.
type TaskEvent struct {
	TaskID        string     `json:"task_id"`
	RequestedName string     `json:"requested_name"`
	ResolvedName  *string    `json:"resolved_name,omitempty"`
	State         string     `json:"state"`
	ResultID      *int64     `json:"result_id,omitempty"`
	ErrorDetail   *string    `json:"error_detail,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event TaskEvent) error
}

// AMQPPublisher publishes persistent JSON messages to a topic exchange.
// amqp channels are not safe for concurrent publishing, hence the mutex.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	exchange string
	metrics  *observability.Metrics
}

func NewAMQPPublisher(conn *amqp.Connection, exchange string, metrics *observability.Metrics) (*AMQPPublisher, error) {
	ch, err := CreateChannel(conn)
	if err != nil {
		return nil, err
	}
	if err := DeclareExchange(ch, exchange); err != nil {
		ch.Close()
		return nil, err
	}
	return &AMQPPublisher{ch: ch, exchange: exchange, metrics: metrics}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event TaskEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	err = p.ch.PublishWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.TaskID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	p.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.EventsPublishedTotal.WithLabelValues(routingKey, status).Inc()
	}
	return err
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// NoopPublisher discards events. It is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, routingKey string, event TaskEvent) error {
	logrus.WithFields(logrus.Fields{
		"task_id":     event.TaskID,
		"routing_key": routingKey,
	}).Debug("Task event dropped, no broker configured")
	return nil
}
