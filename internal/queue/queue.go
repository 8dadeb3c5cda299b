package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"whatsapp-automation/internal/automation"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Conn owns one AMQP connection and channel bound to a durable queue
type Conn struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	Queue string
}

func Dial(url, queue string) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &Conn{conn: conn, ch: ch, Queue: queue}, nil
}

func (c *Conn) Channel() *amqp.Channel {
	return c.ch
}

// Deliveries starts a manual-ack consumer with the given prefetch
func (c *Conn) Deliveries(prefetch int) (<-chan amqp.Delivery, error) {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return nil, err
	}
	return c.ch.Consume(c.Queue, "", false, false, false, false, nil)
}

func (c *Conn) Close() error {
	chErr := c.ch.Close()
	if err := c.conn.Close(); err != nil {
		return err
	}
	return chErr
}

type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher is the queue-mode automation.Transport. Sends are accepted once
// the broker has the message; a worker delivers them later.
type Publisher struct {
	ch    channelPublisher
	queue string
}

func NewPublisher(ch channelPublisher, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue}
}

func (p *Publisher) Send(ctx context.Context, req automation.SendRequest) (automation.SendReceipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return automation.SendReceipt{}, err
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return automation.SendReceipt{}, fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return automation.SendReceipt{Queued: true}, nil
}

// Acknowledger is the subset of amqp.Delivery the consumer settles with
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer drains the send queue into a direct transport
type Consumer struct {
	Transport automation.Transport
	Workers   int
	Log       *zap.Logger
}

// Run processes deliveries until ctx is cancelled or the channel closes
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for {
		select {
		case <-ctx.Done():
			g.Wait()
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				c.Process(gctx, d.Body, d.Redelivered, d)
				return nil
			})
		}
	}
}

// Process sends one queued request. Malformed bodies and permanent provider
// errors are dropped; transient errors are requeued once.
func (c *Consumer) Process(ctx context.Context, body []byte, redelivered bool, ack Acknowledger) {
	log := c.logger()
	var req automation.SendRequest
	if err := json.Unmarshal(body, &req); err != nil || req.Phone == "" {
		log.Error("Discarding malformed send request", zap.Error(err), zap.ByteString("body", body))
		ack.Nack(false, false)
		return
	}

	receipt, err := c.Transport.Send(ctx, req)
	if err != nil {
		requeue := !Permanent(err) && !redelivered
		log.Warn("Queued send failed",
			zap.Uint("rule_id", req.RuleID),
			zap.Uint("contact_id", req.ContactID),
			zap.Bool("requeue", requeue),
			zap.Error(err))
		ack.Nack(false, requeue)
		return
	}
	log.Info("Queued send delivered",
		zap.Uint("rule_id", req.RuleID),
		zap.Uint("contact_id", req.ContactID),
		zap.String("provider_message_id", receipt.ProviderMessageID))
	ack.Ack(false)
}

// Permanent reports whether err says a retry cannot succeed
func Permanent(err error) bool {
	var p interface{ Permanent() bool }
	return errors.As(err, &p) && p.Permanent()
}

func (c *Consumer) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}
