package tripsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type fileMirrorStore struct {
	root string
	mu   sync.Mutex
}

type mirrorSnapshot struct {
	Records   []Record  `json:"records"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewFileMirrorStore keeps one JSON snapshot file per (collection, scope)
// under root. Snapshots are replaced atomically; an empty record set is a
// valid snapshot, not a deletion of the file.
func NewFileMirrorStore(root string) (MirrorStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &fileMirrorStore{root: root}, nil
}

func (s *fileMirrorStore) Load(_ context.Context, collection, scopeID string) ([]Record, error) {
	path, err := s.snapshotPath(collection, scopeID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, err
	}
	var snapshot mirrorSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	if snapshot.Records == nil {
		return []Record{}, nil
	}
	return snapshot.Records, nil
}

func (s *fileMirrorStore) Save(_ context.Context, collection, scopeID string, records []Record) error {
	path, err := s.snapshotPath(collection, scopeID)
	if err != nil {
		return err
	}
	snapshot := mirrorSnapshot{
		Records:   append([]Record{}, records...),
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileMirrorStore) Close() error {
	return nil
}

func (s *fileMirrorStore) snapshotPath(collection, scopeID string) (string, error) {
	collection = normalizeCollection(collection)
	scopeID = strings.TrimSpace(scopeID)
	if collection == "" || scopeID == "" {
		return "", ErrInvalidInput
	}
	// Path-escape both components so scope IDs can never climb out of root.
	return filepath.Join(s.root, url.PathEscape(collection), url.PathEscape(scopeID)+".json"), nil
}
