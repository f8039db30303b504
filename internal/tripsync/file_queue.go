package tripsync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const defaultQueueCapacity = 1024

type fileQueueStore struct {
	path     string
	capacity int
	logger   Logger
	mu       sync.Mutex
	items    []SyncOperation
}

type fileQueueState struct {
	Items []json.RawMessage `json:"items"`
}

// NewFileQueueStore opens (or creates) a JSON-file backed queue store. The
// file is rewritten atomically on every mutation so a crash mid-write never
// leaves a partial spool behind.
func NewFileQueueStore(path string, capacity int, logger Logger) (QueueStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	s := &fileQueueStore{
		path:     path,
		capacity: capacity,
		logger:   logger,
		items:    []SyncOperation{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileQueueStore) Add(_ context.Context, op SyncOperation) error {
	if err := op.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) >= s.capacity {
		return ErrQueueFull
	}
	s.items = append(s.items, op)
	if err := s.saveLocked(); err != nil {
		s.items = s.items[:len(s.items)-1]
		return err
	}
	return nil
}

func (s *fileQueueStore) GetAll(_ context.Context) ([]SyncOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SyncOperation(nil), s.items...), nil
}

func (s *fileQueueStore) Update(_ context.Context, op SyncOperation) error {
	if err := op.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == op.ID {
			previous := s.items[i]
			s.items[i] = op
			if err := s.saveLocked(); err != nil {
				s.items[i] = previous
				return err
			}
			return nil
		}
	}
	return ErrInvalidInput
}

func (s *fileQueueStore) Delete(_ context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			removed := s.items[i]
			s.items = append(s.items[:i], s.items[i+1:]...)
			if err := s.saveLocked(); err != nil {
				s.items = append(s.items[:i], append([]SyncOperation{removed}, s.items[i:]...)...)
				return err
			}
			return nil
		}
	}
	return nil
}

func (s *fileQueueStore) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *fileQueueStore) Capacity() int {
	return s.capacity
}

func (s *fileQueueStore) Close() error {
	return nil
}

func (s *fileQueueStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	items := make([]SyncOperation, 0, len(snapshot.Items))
	skipped := 0
	for _, raw := range snapshot.Items {
		op, decodeErr := DecodeOperation(raw)
		if decodeErr != nil {
			skipped++
			s.logf("skipping malformed queue record: %v", decodeErr)
			continue
		}
		items = append(items, op)
	}
	if len(items) > s.capacity {
		items = items[len(items)-s.capacity:]
	}
	s.items = items
	if skipped > 0 || len(items) < len(snapshot.Items) {
		return s.saveLocked()
	}
	return nil
}

func (s *fileQueueStore) saveLocked() error {
	snapshot := fileQueueState{Items: make([]json.RawMessage, 0, len(s.items))}
	for _, op := range s.items {
		raw, err := EncodeOperation(op)
		if err != nil {
			return err
		}
		snapshot.Items = append(snapshot.Items, raw)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileQueueStore) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
