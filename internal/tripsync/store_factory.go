package tripsync

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

type QueueStoreFactory func(dsn string, capacity int, logger Logger) (QueueStore, error)
type MirrorStoreFactory func(dsn string, logger Logger) (MirrorStore, error)

var storeFactoryRegistry = struct {
	mu              sync.RWMutex
	queueFactories  map[string]QueueStoreFactory
	mirrorFactories map[string]MirrorStoreFactory
}{
	queueFactories:  map[string]QueueStoreFactory{},
	mirrorFactories: map[string]MirrorStoreFactory{},
}

func RegisterQueueStoreFactory(scheme string, factory QueueStoreFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.queueFactories[scheme] = factory
}

func RegisterMirrorStoreFactory(scheme string, factory MirrorStoreFactory) {
	scheme = normalizeStoreScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	storeFactoryRegistry.mu.Lock()
	defer storeFactoryRegistry.mu.Unlock()
	storeFactoryRegistry.mirrorFactories[scheme] = factory
}

func lookupQueueStoreFactory(scheme string) (QueueStoreFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.queueFactories[scheme]
	return factory, ok
}

func lookupMirrorStoreFactory(scheme string) (MirrorStoreFactory, bool) {
	scheme = normalizeStoreScheme(scheme)
	storeFactoryRegistry.mu.RLock()
	defer storeFactoryRegistry.mu.RUnlock()
	factory, ok := storeFactoryRegistry.mirrorFactories[scheme]
	return factory, ok
}

// BuildQueueStoreFromDSN dispatches on the DSN scheme: file paths (bare or
// file:), memory:, sqlite:, and postgres: are built in; other schemes go
// through the factory registry.
func BuildQueueStoreFromDSN(dsn string, capacity int, logger Logger) (QueueStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupQueueStoreFactory(scheme); ok {
		return factory(dsn, capacity, logger)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileQueueStore(path, capacity, logger)
	case "memory", "mem", "inmem":
		return NewMemoryQueueStore(capacity), nil
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteQueueStore(path, capacity, logger)
	case "postgres", "postgresql":
		return NewPostgresQueueStore(dsn, capacity, logger)
	case "redis", "rediss", "nats", "sqs", "kafka":
		return nil, fmt.Errorf("%w: queue store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported queue store scheme: %s", scheme)
	}
}

// BuildMirrorStoreFromDSN mirrors BuildQueueStoreFromDSN for mirror storage.
// A bare or file: DSN names a directory of per-scope snapshot files.
func BuildMirrorStoreFromDSN(dsn string, logger Logger) (MirrorStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeStoreScheme(parsed.Scheme)
	if factory, ok := lookupMirrorStoreFactory(scheme); ok {
		return factory(dsn, logger)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileMirrorStore(path)
	case "memory", "mem", "inmem":
		return NewMemoryMirrorStore(), nil
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteMirrorStore(path)
	case "postgres", "postgresql":
		return NewPostgresMirrorStore(dsn)
	case "redis", "rediss", "nats", "sqs", "kafka":
		return nil, fmt.Errorf("%w: mirror store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported mirror store scheme: %s", scheme)
	}
}

func normalizeStoreScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
