package cart

import (
	"context"
	"sync"

	"concierge/core"
)

// Store is the cart collaborator. Add is idempotent by (type, id) and
// reports whether the item was new. List returns items in insertion order.
type Store interface {
	Add(ctx context.Context, item core.CartItem) (bool, error)
	Remove(ctx context.Context, itemType, id string) (bool, error)
	Clear(ctx context.Context) error
	List(ctx context.Context) ([]core.CartItem, error)
}

// MemoryStore keeps the cart in process.
type MemoryStore struct {
	mu    sync.Mutex
	items []core.CartItem
	index map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[string]int)}
}

func (s *MemoryStore) Add(_ context.Context, item core.CartItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[item.Key()]; ok {
		return false, nil
	}
	s.index[item.Key()] = len(s.items)
	s.items = append(s.items, item)
	return true, nil
}

func (s *MemoryStore) Remove(_ context.Context, itemType, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := core.CartItem{Type: itemType, ID: id}.Key()
	i, ok := s.index[key]
	if !ok {
		return false, nil
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, key)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j].Key()] = j
	}
	return true, nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.index = make(map[string]int)
	return nil
}

func (s *MemoryStore) List(context.Context) ([]core.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.CartItem(nil), s.items...), nil
}
