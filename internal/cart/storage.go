package cart

import (
	"context"
	"encoding/json"
	"sync"
)

// Storage persists serialized carts under a key.
// Load returns (nil, nil) when nothing is stored under key.
type Storage interface {
	Load(ctx context.Context, key string) ([]LineItem, error)
	Save(ctx context.Context, key string, items []LineItem) error
	Delete(ctx context.Context, key string) error
}

// MemoryStorage keeps carts in process memory. Used in tests and local runs
// without Redis.
type MemoryStorage struct {
	mu    sync.Mutex
	carts map[string][]byte
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{carts: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(_ context.Context, key string) ([]LineItem, error) {
	m.mu.Lock()
	data, ok := m.carts[key]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}

	var items []LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (m *MemoryStorage) Save(_ context.Context, key string, items []LineItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.carts[key] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.carts, key)
	m.mu.Unlock()
	return nil
}

// Has reports whether a cart is stored under key.
func (m *MemoryStorage) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.carts[key]
	return ok
}
