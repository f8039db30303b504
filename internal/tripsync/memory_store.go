package tripsync

import (
	"context"
	"strings"
	"sync"
)

type memoryQueueStore struct {
	capacity int
	mu       sync.Mutex
	items    []SyncOperation
}

// NewMemoryQueueStore returns a queue store with no durability. Useful for
// tests and throwaway sessions; a restart loses everything in it.
func NewMemoryQueueStore(capacity int) QueueStore {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &memoryQueueStore{capacity: capacity, items: []SyncOperation{}}
}

func (s *memoryQueueStore) Add(_ context.Context, op SyncOperation) error {
	if err := op.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.capacity {
		return ErrQueueFull
	}
	s.items = append(s.items, op)
	return nil
}

func (s *memoryQueueStore) GetAll(_ context.Context) ([]SyncOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SyncOperation(nil), s.items...), nil
}

func (s *memoryQueueStore) Update(_ context.Context, op SyncOperation) error {
	if err := op.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == op.ID {
			s.items[i] = op
			return nil
		}
	}
	return ErrInvalidInput
}

func (s *memoryQueueStore) Delete(_ context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memoryQueueStore) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *memoryQueueStore) Capacity() int {
	return s.capacity
}

func (s *memoryQueueStore) Close() error {
	return nil
}

type memoryMirrorStore struct {
	mu    sync.Mutex
	items map[string][]Record
}

// NewMemoryMirrorStore returns a mirror store with no durability.
func NewMemoryMirrorStore() MirrorStore {
	return &memoryMirrorStore{items: map[string][]Record{}}
}

func (s *memoryMirrorStore) Load(_ context.Context, collection, scopeID string) ([]Record, error) {
	key, err := mirrorKey(collection, scopeID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.items[key]...), nil
}

func (s *memoryMirrorStore) Save(_ context.Context, collection, scopeID string, records []Record) error {
	key, err := mirrorKey(collection, scopeID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = append([]Record(nil), records...)
	return nil
}

func (s *memoryMirrorStore) Close() error {
	return nil
}

func mirrorKey(collection, scopeID string) (string, error) {
	collection = normalizeCollection(collection)
	scopeID = strings.TrimSpace(scopeID)
	if collection == "" || scopeID == "" {
		return "", ErrInvalidInput
	}
	return collection + "\x00" + scopeID, nil
}
