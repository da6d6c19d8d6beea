package orders

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Store persists standing orders keyed by their hash. Implementations must
// return ErrOrderNotFound for unknown hashes and must not retain the pointers
// they are handed.
type Store interface {
	Put(order *Order) error
	Get(hash common.Hash) (*Order, error)
	List() ([]*Order, error)
}

// MemoryStore is the in-process Store used by tests and by library embedders
// that do not need persistence.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[common.Hash]Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[common.Hash]Order)}
}

func (s *MemoryStore) Put(order *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.Hash()] = *order
	return nil
}

func (s *MemoryStore) Get(hash common.Hash) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[hash]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

func (s *MemoryStore) List() ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Order, 0, len(s.orders))
	for _, order := range s.orders {
		copied := order
		out = append(out, &copied)
	}
	return out, nil
}
