package tripsync

import (
	"context"
	"fmt"
	"strings"
)

type HybridStoreOptions struct {
	Collection string
	Remote     CollectionBackend
	Mirror     MirrorStore
	Queue      *SyncQueue
	// Online reports current connectivity; while offline the remote is not
	// attempted at all. Defaults to always-online.
	Online func() bool
	Logger Logger
}

// HybridStore is the read/write entry point for one collection. Reads go
// remote-first and fall back to the mirror; writes land in the mirror
// immediately and are queued for later delivery whenever the remote write
// cannot complete. Remote connectivity failures never reach the caller.
type HybridStore struct {
	collection string
	remote     CollectionBackend
	mirror     MirrorStore
	queue      *SyncQueue
	online     func() bool
	logger     Logger
}

func NewHybridStore(opts HybridStoreOptions) (*HybridStore, error) {
	collection := normalizeCollection(opts.Collection)
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if opts.Remote == nil {
		return nil, fmt.Errorf("remote backend is required")
	}
	if opts.Mirror == nil {
		return nil, fmt.Errorf("mirror store is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("sync queue is required")
	}
	online := opts.Online
	if online == nil {
		online = func() bool { return true }
	}
	return &HybridStore{
		collection: collection,
		remote:     opts.Remote,
		mirror:     opts.Mirror,
		queue:      opts.Queue,
		online:     online,
		logger:     opts.Logger,
	}, nil
}

func (h *HybridStore) Collection() string {
	return h.collection
}

// Get returns the remote state when reachable, refreshing the mirror on the
// way through; any remote failure degrades to the mirror's last known state.
func (h *HybridStore) Get(ctx context.Context, scopeID string) ([]Record, error) {
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return nil, ErrInvalidInput
	}
	if h.online() {
		records, err := h.remote.GetItems(ctx, scopeID)
		if err == nil {
			if records == nil {
				records = []Record{}
			}
			if mirrorErr := h.mirror.Save(ctx, h.collection, scopeID, records); mirrorErr != nil {
				h.logf("mirror refresh for %s/%s failed: %v", h.collection, scopeID, mirrorErr)
			}
			return records, nil
		}
		h.logf("remote read for %s/%s failed, serving mirror: %v", h.collection, scopeID, err)
	}
	return h.mirror.Load(ctx, h.collection, scopeID)
}

// Save reconciles duplicates, writes the mirror unconditionally, then
// attempts the remote write. On remote failure the deduplicated snapshot is
// queued durably and the call still succeeds. An empty records slice clears
// the scope everywhere.
func (h *HybridStore) Save(ctx context.Context, scopeID string, records []Record) error {
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return ErrInvalidInput
	}
	deduped := Reconcile(records)

	if err := h.mirror.Save(ctx, h.collection, scopeID, deduped); err != nil {
		h.logf("mirror write for %s/%s failed: %v", h.collection, scopeID, err)
	}

	if h.online() {
		var remoteErr error
		if len(deduped) == 0 {
			remoteErr = h.remote.DeleteItems(ctx, scopeID)
		} else {
			remoteErr = h.remote.SaveItems(ctx, scopeID, deduped)
		}
		if remoteErr == nil {
			return nil
		}
		h.logf("remote write for %s/%s failed, queueing for later sync: %v", h.collection, scopeID, remoteErr)
	}

	if _, err := h.queue.Enqueue(ctx, OpSave, h.collection, scopeID, deduped); err != nil {
		return err
	}
	return nil
}

func (h *HybridStore) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

// Facade bundles one HybridStore per known collection, resolved against the
// backend registry at startup.
type Facade struct {
	PackingItems  *HybridStore
	Meals         *HybridStore
	ShoppingItems *HybridStore
	Todos         *HybridStore
}

// Store resolves the hybrid store for a collection name, or nil when the
// collection is unknown.
func (f *Facade) Store(collection string) *HybridStore {
	switch normalizeCollection(collection) {
	case CollectionPackingItems:
		return f.PackingItems
	case CollectionMeals:
		return f.Meals
	case CollectionShoppingItems:
		return f.ShoppingItems
	case CollectionTodos:
		return f.Todos
	default:
		return nil
	}
}

func NewFacade(backends *BackendRegistry, mirror MirrorStore, queue *SyncQueue, online func() bool, logger Logger) (*Facade, error) {
	if backends == nil {
		return nil, fmt.Errorf("backend registry is required")
	}
	build := func(collection string) (*HybridStore, error) {
		remote, ok := backends.Lookup(collection)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
		}
		return NewHybridStore(HybridStoreOptions{
			Collection: collection,
			Remote:     remote,
			Mirror:     mirror,
			Queue:      queue,
			Online:     online,
			Logger:     logger,
		})
	}
	facade := &Facade{}
	var err error
	if facade.PackingItems, err = build(CollectionPackingItems); err != nil {
		return nil, err
	}
	if facade.Meals, err = build(CollectionMeals); err != nil {
		return nil, err
	}
	if facade.ShoppingItems, err = build(CollectionShoppingItems); err != nil {
		return nil, err
	}
	if facade.Todos, err = build(CollectionTodos); err != nil {
		return nil, err
	}
	return facade, nil
}
