package mq

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// MemoryBroker delivers messages within the process. Subscribers receive
// messages published after they subscribe.
type MemoryBroker struct {
	mu     sync.Mutex
	seq    int
	subs   map[string][]chan Message
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]chan Message)}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", errors.New("memory broker closed")
	}
	b.seq++
	msg := Message{ID: strconv.Itoa(b.seq), Data: append([]byte(nil), data...), Attributes: attrs}
	subs := append([]chan Message(nil), b.subs[channel]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return msg.ID, nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	ch := make(chan Message, 16)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	defer b.unsubscribe(channel, ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			_ = handler(ctx, msg)
		}
	}
}

// Subscribers reports the number of active subscribers on channel.
func (b *MemoryBroker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *MemoryBroker) unsubscribe(channel string, ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[channel]
	for i, sub := range subs {
		if sub == ch {
			b.subs[channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}
