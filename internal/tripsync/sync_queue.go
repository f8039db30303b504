package tripsync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultRetryCap = 3

type SyncQueueOptions struct {
	Store    QueueStore
	Backends *BackendRegistry
	// Online reports current connectivity. Enqueue kicks off a background
	// drain only while online. Defaults to always-online.
	Online   func() bool
	RetryCap int
	Logger   Logger
}

// SyncQueue guarantees at-least-once delivery of deferred writes. Operations
// live in the QueueStore until a drain delivers them or burns through the
// retry cap.
type SyncQueue struct {
	store    QueueStore
	backends *BackendRegistry
	online   func() bool
	retryCap int
	logger   Logger

	mu       sync.Mutex
	draining bool
}

type DrainStats struct {
	// Skipped is true when the pass was ignored because another drain was
	// already in flight.
	Skipped   bool
	Delivered int
	Retried   int
	Dropped   int
}

func NewSyncQueue(opts SyncQueueOptions) (*SyncQueue, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if opts.Backends == nil {
		return nil, fmt.Errorf("backend registry is required")
	}
	online := opts.Online
	if online == nil {
		online = func() bool { return true }
	}
	retryCap := opts.RetryCap
	if retryCap <= 0 {
		retryCap = defaultRetryCap
	}
	return &SyncQueue{
		store:    opts.Store,
		backends: opts.Backends,
		online:   online,
		retryCap: retryCap,
		logger:   opts.Logger,
	}, nil
}

// Enqueue durably records a deferred mutation. Persistence failures propagate
// to the caller; nothing is held only in memory. When online, a background
// drain is kicked off without blocking the caller.
func (q *SyncQueue) Enqueue(ctx context.Context, kind OpKind, collection, scopeID string, payload []Record) (SyncOperation, error) {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(scopeID) == "" {
		return SyncOperation{}, ErrInvalidInput
	}
	op := newSyncOperation(kind, collection, scopeID, payload, time.Now().UTC())
	if err := q.store.Add(ctx, op); err != nil {
		return SyncOperation{}, err
	}
	q.logf("queued %s %s/%s (%d records)", op.Kind, op.Collection, op.ScopeID, len(op.Payload))
	if q.online() {
		// Detached from the caller's context: a drain pass is self-contained
		// and must not die with the request that triggered it.
		go func() {
			if _, err := q.Drain(context.Background()); err != nil {
				q.logf("background drain failed: %v", err)
			}
		}()
	}
	return op, nil
}

// PendingCount reports how many operations are still queued, for "unsynced
// changes" indicators.
func (q *SyncQueue) PendingCount(ctx context.Context) (int, error) {
	ops, err := q.store.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Draining reports whether a drain pass is currently in flight.
func (q *SyncQueue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// Drain attempts delivery of every queued operation in enqueue order. At most
// one pass runs at a time; a request arriving mid-pass returns immediately
// with Skipped set. A single operation's remote failure never aborts the
// pass; only store failures do.
func (q *SyncQueue) Drain(ctx context.Context) (DrainStats, error) {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return DrainStats{Skipped: true}, nil
	}
	q.draining = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	ops, err := q.store.GetAll(ctx)
	if err != nil {
		return DrainStats{}, err
	}
	var stats DrainStats
	for _, op := range ops {
		backend, ok := q.backends.Lookup(op.Collection)
		if !ok {
			q.logf("dropping operation %s: %v %q", op.ID, ErrUnknownCollection, op.Collection)
			if delErr := q.store.Delete(ctx, op.ID); delErr != nil {
				return stats, delErr
			}
			stats.Dropped++
			continue
		}

		execErr := executeOperation(ctx, backend, op)
		if execErr == nil {
			if delErr := q.store.Delete(ctx, op.ID); delErr != nil {
				return stats, delErr
			}
			stats.Delivered++
			continue
		}

		op.RetryCount++
		if op.RetryCount >= q.retryCap {
			q.logf("WARNING: dropping operation %s (%s %s/%s) after %d failed attempts: %v",
				op.ID, op.Kind, op.Collection, op.ScopeID, op.RetryCount, execErr)
			if delErr := q.store.Delete(ctx, op.ID); delErr != nil {
				return stats, delErr
			}
			stats.Dropped++
			continue
		}
		q.logf("operation %s failed (attempt %d/%d), keeping it queued: %v",
			op.ID, op.RetryCount, q.retryCap, execErr)
		if upErr := q.store.Update(ctx, op); upErr != nil {
			return stats, upErr
		}
		stats.Retried++
	}
	return stats, nil
}

func executeOperation(ctx context.Context, backend CollectionBackend, op SyncOperation) error {
	switch op.Kind {
	case OpSave:
		if len(op.Payload) == 0 {
			return backend.DeleteItems(ctx, op.ScopeID)
		}
		return backend.SaveItems(ctx, op.ScopeID, op.Payload)
	case OpDelete:
		return backend.DeleteItems(ctx, op.ScopeID)
	default:
		return fmt.Errorf("%w: operation kind %q", ErrInvalidInput, op.Kind)
	}
}

func (q *SyncQueue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}
