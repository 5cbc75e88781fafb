package cache

import (
	"context"
	"sync"
	"time"

	"github.com/storefront/apiserver/types"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memoryItem struct {
	product   types.Product
	expiresAt time.Time
}

// Memory is a per-process TTL cache. Expired entries are dropped on read
// and by a periodic sweep.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	ttl   time.Duration
	now   func() time.Time
	stop  chan struct{}
	once  sync.Once
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		items: make(map[string]memoryItem),
		ttl:   ttl,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go m.sweep(ttl)
	return m
}

func (m *Memory) Get(_ context.Context, id primitive.ObjectID) (types.Product, bool) {
	m.mu.RLock()
	item, ok := m.items[productKey(id)]
	m.mu.RUnlock()

	if !ok || m.now().After(item.expiresAt) {
		observe(m.Driver(), false)
		return types.Product{}, false
	}
	observe(m.Driver(), true)
	product := item.product
	product.Reviews = append([]types.Review(nil), item.product.Reviews...)
	return product, true
}

func (m *Memory) Set(_ context.Context, product types.Product) {
	product.Reviews = append([]types.Review(nil), product.Reviews...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[productKey(product.ID)] = memoryItem{product: product, expiresAt: m.now().Add(m.ttl)}
}

func (m *Memory) Delete(_ context.Context, id primitive.ObjectID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, productKey(id))
}

// Len reports the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *Memory) Driver() string { return "memory" }

// Close stops the background sweep.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *Memory) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for key, item := range m.items {
				if now.After(item.expiresAt) {
					delete(m.items, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
