// Package queue consumes geocoding jobs from RabbitMQ and replies with
// progress updates and the final response.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/job"
	"github.com/UnknownOlympus/cartograph/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// Reply message types, carried in the MessageTypeHeader header.
const (
	MessageTypeHeader = "x-message-type"
	MessageProgress   = "progress"
	MessageResult     = "result"
	MessageError      = "error"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery channel.
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Channel is the subset of *amqp.Channel the consumer uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ProgressMessage is published to ReplyTo after every batch.
type ProgressMessage struct {
	JobID    string          `json:"jobId"`
	Progress models.Progress `json:"progress"`
}

// ErrorMessage is published to ReplyTo when a request is rejected.
type ErrorMessage struct {
	Error string `json:"error"`
}

// Consumer runs one job per delivered GeocodeRequest.
type Consumer struct {
	ch       Channel
	runner   *job.Runner
	queue    string
	prefetch int
	log      *slog.Logger
}

// NewConsumer creates a consumer for queueName. prefetch bounds the number of
// jobs processed at the same time.
func NewConsumer(log *slog.Logger, ch Channel, runner *job.Runner, queueName string, prefetch int) *Consumer {
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{ch: ch, runner: runner, queue: queueName, prefetch: prefetch, log: log}
}

// Dial connects to the broker and opens a channel.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return conn, ch, nil
}

// Run declares the queue and consumes it until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	_, err := c.ch.QueueDeclare(
		c.queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}

	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.log.InfoContext(ctx, "Queue consumer started", "queue", c.queue, "prefetch", c.prefetch)

	var group errgroup.Group
	group.SetLimit(c.prefetch)
	defer func() { _ = group.Wait() }()

	for {
		select {
		case <-ctx.Done():
			c.log.InfoContext(ctx, "Queue consumer stopped.")
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			group.Go(func() error {
				c.handle(ctx, delivery)
				return nil
			})
		}
	}
}

// handle processes one delivery and acknowledges it.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	log := c.log.With("correlation_id", d.CorrelationId, "delivery", d.DeliveryTag)

	var req models.GeocodeRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		log.WarnContext(ctx, "Malformed geocode request", "error", err)
		c.nack(ctx, d, false)
		return
	}

	jb, err := c.runner.New(req)
	if err != nil {
		log.WarnContext(ctx, "Rejected geocode request", "error", err)
		c.reply(ctx, d, MessageError, ErrorMessage{Error: err.Error()})
		c.nack(ctx, d, false)
		return
	}

	resp, err := jb.Run(ctx, func(progress models.Progress) {
		c.reply(ctx, d, MessageProgress, ProgressMessage{JobID: jb.ID, Progress: progress})
	})
	if ctx.Err() != nil {
		log.WarnContext(ctx, "Job interrupted by shutdown, requeueing", "job", jb.ID)
		c.nack(context.WithoutCancel(ctx), d, true)
		return
	}
	if err != nil {
		log.ErrorContext(ctx, "Geocoding job failed", "job", jb.ID, "error", err)
	}

	c.reply(ctx, d, MessageResult, resp)
	if err = d.Ack(false); err != nil {
		log.ErrorContext(ctx, "Failed to ack delivery", "error", err)
	}
}

// reply publishes body to the delivery's ReplyTo queue, if any.
func (c *Consumer) reply(ctx context.Context, d amqp.Delivery, msgType string, body any) {
	if d.ReplyTo == "" {
		return
	}

	payload, err := json.Marshal(body)
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to encode reply", "type", msgType, "error", err)
		return
	}

	err = c.ch.PublishWithContext(ctx, "", d.ReplyTo, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Headers:       amqp.Table{MessageTypeHeader: msgType},
		Timestamp:     time.Now(),
		Body:          payload,
	})
	if err != nil {
		c.log.ErrorContext(ctx, "Failed to publish reply", "type", msgType, "reply_to", d.ReplyTo, "error", err)
	}
}

func (c *Consumer) nack(ctx context.Context, d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.log.ErrorContext(ctx, "Failed to nack delivery", "error", err)
	}
}
