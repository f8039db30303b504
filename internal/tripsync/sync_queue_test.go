package tripsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeBackend counts calls and fails the first failSaves save attempts.
type fakeBackend struct {
	mu        sync.Mutex
	failSaves int
	saves     int
	deletes   int
	saved     map[string][]Record
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{saved: map[string][]Record{}}
}

func (b *fakeBackend) GetItems(_ context.Context, scopeID string) ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Record(nil), b.saved[scopeID]...), nil
}

func (b *fakeBackend) SaveItems(_ context.Context, scopeID string, records []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	if b.failSaves > 0 {
		b.failSaves--
		return fmt.Errorf("remote unavailable")
	}
	b.saved[scopeID] = append([]Record(nil), records...)
	return nil
}

func (b *fakeBackend) DeleteItems(_ context.Context, scopeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes++
	delete(b.saved, scopeID)
	return nil
}

func (b *fakeBackend) saveCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func newTestQueue(t *testing.T, backend CollectionBackend, opts SyncQueueOptions) *SyncQueue {
	t.Helper()
	if opts.Store == nil {
		opts.Store = NewMemoryQueueStore(0)
	}
	if opts.Backends == nil {
		registry := NewBackendRegistry()
		registry.Register(CollectionPackingItems, backend)
		opts.Backends = registry
	}
	if opts.Online == nil {
		// Keep Enqueue from spawning background drains so the tests control
		// every pass explicitly.
		opts.Online = func() bool { return false }
	}
	queue, err := NewSyncQueue(opts)
	if err != nil {
		t.Fatalf("NewSyncQueue: %v", err)
	}
	return queue
}

func TestEnqueueAndDrainDelivers(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	queue := newTestQueue(t, backend, SyncQueueOptions{})

	records := []Record{{ID: "r1", Name: "Tent"}}
	if _, err := queue.Enqueue(ctx, OpSave, CollectionPackingItems, "trip1", records); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pending, err := queue.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected 1 pending, got %d", pending)
	}

	stats, err := queue.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Delivered != 1 || stats.Retried != 0 || stats.Dropped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if pending, _ = queue.PendingCount(ctx); pending != 0 {
		t.Fatalf("expected empty queue after drain, got %d", pending)
	}
	if got := backend.saved["trip1"]; len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("backend did not receive the payload: %+v", got)
	}
}

func TestDrainRetriesThenDropsAtCap(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.failSaves = 100
	queue := newTestQueue(t, backend, SyncQueueOptions{RetryCap: 3})

	if _, err := queue.Enqueue(ctx, OpSave, CollectionPackingItems, "trip1", []Record{{Name: "Tent"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for pass := 1; pass <= 2; pass++ {
		stats, err := queue.Drain(ctx)
		if err != nil {
			t.Fatalf("Drain pass %d: %v", pass, err)
		}
		if stats.Retried != 1 || stats.Dropped != 0 {
			t.Fatalf("pass %d: expected a retry, got %+v", pass, stats)
		}
	}

	// Third failed attempt reaches the cap and removes the operation.
	stats, err := queue.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain final pass: %v", err)
	}
	if stats.Dropped != 1 || stats.Retried != 0 {
		t.Fatalf("expected the operation to be dropped, got %+v", stats)
	}
	if pending, _ := queue.PendingCount(ctx); pending != 0 {
		t.Fatalf("dropped operation still queued, pending=%d", pending)
	}
	if backend.saveCalls() != 3 {
		t.Fatalf("expected exactly 3 delivery attempts, got %d", backend.saveCalls())
	}
}

func TestDrainAtLeastOnceAfterTransientFailures(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.failSaves = 2
	queue := newTestQueue(t, backend, SyncQueueOptions{RetryCap: 3})

	if _, err := queue.Enqueue(ctx, OpSave, CollectionPackingItems, "trip1", []Record{{ID: "r1", Name: "Tent"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	for pass := 0; pass < 3; pass++ {
		if _, err := queue.Drain(ctx); err != nil {
			t.Fatalf("Drain: %v", err)
		}
	}
	if got := backend.saved["trip1"]; len(got) != 1 {
		t.Fatalf("payload never delivered despite attempts remaining: %+v", got)
	}
	if pending, _ := queue.PendingCount(ctx); pending != 0 {
		t.Fatalf("delivered operation still queued, pending=%d", pending)
	}
}

func TestDrainFailureIsolation(t *testing.T) {
	ctx := context.Background()
	failing := newFakeBackend()
	failing.failSaves = 100
	healthy := newFakeBackend()
	registry := NewBackendRegistry()
	registry.Register(CollectionPackingItems, failing)
	registry.Register(CollectionMeals, healthy)
	queue := newTestQueue(t, nil, SyncQueueOptions{Backends: registry})

	if _, err := queue.Enqueue(ctx, OpSave, CollectionPackingItems, "trip1", []Record{{Name: "Tent"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.Enqueue(ctx, OpSave, CollectionMeals, "trip1", []Record{{Name: "Chili"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	stats, err := queue.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Delivered != 1 || stats.Retried != 1 {
		t.Fatalf("one failure must not block the rest of the pass: %+v", stats)
	}
	if len(healthy.saved["trip1"]) != 1 {
		t.Fatal("healthy collection was not delivered")
	}
}

func TestDrainDropsUnknownCollection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryQueueStore(0)
	op := newSyncOperation(OpSave, "retired_collection", "trip1", nil, time.Now().UTC())
	if err := store.Add(ctx, op); err != nil {
		t.Fatalf("Add: %v", err)
	}
	queue := newTestQueue(t, newFakeBackend(), SyncQueueOptions{Store: store})

	stats, err := queue.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Dropped != 1 {
		t.Fatalf("expected unknown-collection drop, got %+v", stats)
	}
	if pending, _ := queue.PendingCount(ctx); pending != 0 {
		t.Fatalf("unroutable operation still queued, pending=%d", pending)
	}
}

func TestDrainEmptySavePayloadClearsScope(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.saved["trip1"] = []Record{{Name: "Tent"}}
	queue := newTestQueue(t, backend, SyncQueueOptions{})

	if _, err := queue.Enqueue(ctx, OpSave, CollectionPackingItems, "trip1", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := queue.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if backend.deletes != 1 {
		t.Fatalf("empty save payload must clear the scope, deletes=%d", backend.deletes)
	}
	if len(backend.saved["trip1"]) != 0 {
		t.Fatal("scope not cleared")
	}
}

func TestConcurrentDrainIsSkipped(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	store := &blockingQueueStore{
		QueueStore: NewMemoryQueueStore(0),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	queue := newTestQueue(t, backend, SyncQueueOptions{Store: store})

	if _, err := queue.Enqueue(ctx, OpSave, CollectionPackingItems, "trip1", []Record{{Name: "Tent"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	started := make(chan struct{})
	done := make(chan DrainStats, 1)
	go func() {
		close(started)
		stats, _ := queue.Drain(ctx)
		done <- stats
	}()
	<-started
	<-store.entered

	stats, err := queue.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !stats.Skipped {
		t.Fatalf("second drain must report skipped, got %+v", stats)
	}
	if !queue.Draining() {
		t.Fatal("Draining() must be true while a pass is in flight")
	}

	close(store.release)
	first := <-done
	if first.Skipped {
		t.Fatal("first drain must not be skipped")
	}
	if queue.Draining() {
		t.Fatal("Draining() must reset after the pass")
	}
}

// blockingQueueStore parks the first GetAll until released, holding a drain
// pass open so the mutual-exclusion path can be observed.
type blockingQueueStore struct {
	QueueStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *blockingQueueStore) GetAll(ctx context.Context) ([]SyncOperation, error) {
	blocked := false
	s.once.Do(func() { blocked = true })
	if blocked {
		close(s.entered)
		<-s.release
	}
	return s.QueueStore.GetAll(ctx)
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, newFakeBackend(), SyncQueueOptions{})
	if _, err := queue.Enqueue(ctx, OpSave, "", "trip1", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty collection, got %v", err)
	}
	if _, err := queue.Enqueue(ctx, OpSave, CollectionPackingItems, "  ", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank scope, got %v", err)
	}
}

func TestEnqueuePropagatesQueueFull(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, newFakeBackend(), SyncQueueOptions{Store: NewMemoryQueueStore(1)})
	if _, err := queue.Enqueue(ctx, OpSave, CollectionPackingItems, "trip1", nil); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if _, err := queue.Enqueue(ctx, OpSave, CollectionPackingItems, "trip2", nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
