package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/storefront/apiserver/config"
)

// routingKeyAttr names the attribute used as the topic routing key.
const routingKeyAttr = "type"

// RabbitMQClient routes events through a topic exchange named after the
// channel. One queue of the same name is bound to every routing key, so
// workers see all order transitions while other consumers may bind to a
// subset such as "order.paid".
type RabbitMQClient struct {
	conn *amqp.Connection
	cfg  config.RabbitMQConfig

	pubMu sync.Mutex
	pub   *amqp.Channel

	topoMu   sync.Mutex
	topology map[string]struct{}
}

// NewRabbitMQClient dials the broker and opens a confirming publish channel.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := pub.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &RabbitMQClient{
		conn:     conn,
		cfg:      cfg,
		pub:      pub,
		topology: make(map[string]struct{}),
	}, nil
}

// Publish sends data to the channel's exchange and waits for the broker
// to confirm it.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if err := r.ensureTopology(channel); err != nil {
		return "", err
	}

	routingKey := attrs[routingKeyAttr]
	if routingKey == "" {
		routingKey = channel
	}
	headers := make(amqp.Table, len(attrs))
	for k, v := range attrs {
		headers[k] = v
	}
	id := uuid.NewString()

	r.pubMu.Lock()
	confirm, err := r.pub.PublishWithDeferredConfirmWithContext(ctx, channel, routingKey, false, false, amqp.Publishing{
		MessageId:    id,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         data,
	})
	r.pubMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", channel, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return "", err
	}
	if !acked {
		return "", fmt.Errorf("rabbitmq rejected message %s", id)
	}
	return id, nil
}

// Subscribe consumes the channel's queue on a dedicated AMQP channel until
// ctx is done. A failed message is requeued once, then dropped.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := r.ensureTopology(channel); err != nil {
		return err
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	if r.cfg.PrefetchCount > 0 {
		if err := ch.Qos(r.cfg.PrefetchCount, 0, false); err != nil {
			return err
		}
	}

	deliveries, err := ch.ConsumeWithContext(ctx, channel, "storefront-"+uuid.NewString(), false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", channel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			msg := Message{ID: d.MessageId, Data: d.Body, Attributes: tableToAttributes(d.Headers)}
			if err := handler(ctx, msg); err != nil {
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close closes the connection and every channel opened on it.
func (r *RabbitMQClient) Close() error {
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn.Close()
}

// ensureTopology declares the exchange and its catch-all queue once per
// channel name.
func (r *RabbitMQClient) ensureTopology(channel string) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	r.topoMu.Lock()
	defer r.topoMu.Unlock()
	if _, ok := r.topology[channel]; ok {
		return nil
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(channel, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", channel, err)
	}
	if _, err := ch.QueueDeclare(channel, r.cfg.QueueDurable, r.cfg.QueueAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", channel, err)
	}
	if err := ch.QueueBind(channel, "#", channel, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", channel, err)
	}

	r.topology[channel] = struct{}{}
	return nil
}

func tableToAttributes(table amqp.Table) map[string]string {
	if len(table) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(table))
	for k, v := range table {
		if b, ok := v.([]byte); ok {
			attrs[k] = string(b)
			continue
		}
		attrs[k] = fmt.Sprint(v)
	}
	return attrs
}
