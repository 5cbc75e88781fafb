package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/storefront/apiserver/config"
	"github.com/storefront/apiserver/types"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// ErrDisabled is returned by New when MQ_BACKEND is "none".
var ErrDisabled = errors.New("message queue disabled")

// MQ publishes and consumes order events on a single channel.
type MQ struct {
	backend Backend
	channel string
}

// New constructs an MQ wrapper for the provided backend.
func New(backend Backend, channel string) *MQ {
	return &MQ{backend: backend, channel: channel}
}

// Open connects the configured backend: "rabbitmq" or "pubsub".
// It returns ErrDisabled for "none".
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, ErrDisabled
	case "rabbitmq":
		backend, err = NewRabbitMQClient(cfg.RabbitMQ)
	case "pubsub":
		backend, err = NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.Channel), nil
}

// Channel returns the order event channel name.
func (m *MQ) Channel() string {
	return m.channel
}

// PublishOrderEvent encodes event as JSON and publishes it with "type" and
// "order_id" attributes.
func (m *MQ) PublishOrderEvent(ctx context.Context, event types.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = m.backend.Publish(ctx, m.channel, data, map[string]string{
		"type":     event.Type,
		"order_id": event.OrderID.Hex(),
	})
	return err
}

// SubscribeOrderEvents blocks delivering decoded order events to handle
// until ctx is done. Undecodable messages are acknowledged and dropped
// after onInvalid is called.
func (m *MQ) SubscribeOrderEvents(ctx context.Context, handle func(context.Context, types.OrderEvent) error, onInvalid func(Message, error)) error {
	return m.backend.Subscribe(ctx, m.channel, func(ctx context.Context, msg Message) error {
		var event types.OrderEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			if onInvalid != nil {
				onInvalid(msg, err)
			}
			return nil
		}
		return handle(ctx, event)
	})
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
