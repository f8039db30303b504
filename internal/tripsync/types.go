package tripsync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrQueueFull         = errors.New("queue full")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrNotImplemented    = errors.New("not implemented")
)

const (
	CollectionPackingItems  = "packing_items"
	CollectionMeals         = "meals"
	CollectionShoppingItems = "shopping_items"
	CollectionTodos         = "todos"
)

// Collections lists every entity set the sync core ships handlers for.
func Collections() []string {
	return []string{
		CollectionPackingItems,
		CollectionMeals,
		CollectionShoppingItems,
		CollectionTodos,
	}
}

type OpKind string

const (
	OpSave   OpKind = "save"
	OpDelete OpKind = "delete"
)

// Record is a single domain entry (packing item, meal, shopping item, todo).
// The sync core only interprets the natural-key fields and the group
// assignment; everything else rides along in Extra untouched.
type Record struct {
	ID              string         `json:"id,omitempty"`
	Name            string         `json:"name"`
	Category        string         `json:"category,omitempty"`
	AssignedGroupID string         `json:"assignedGroupId,omitempty"`
	UpdatedAt       time.Time      `json:"updatedAt,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// SyncOperation is one durable unit of deferred work. The payload is always
// a full replacement snapshot for its (collection, scope), never a patch.
type SyncOperation struct {
	ID         string    `json:"id"`
	Kind       OpKind    `json:"kind"`
	Collection string    `json:"collection"`
	ScopeID    string    `json:"scopeId"`
	Payload    []Record  `json:"payload,omitempty"`
	EnqueuedAt time.Time `json:"timestamp"`
	RetryCount int       `json:"retryCount"`
}

func newSyncOperation(kind OpKind, collection, scopeID string, payload []Record, now time.Time) SyncOperation {
	return SyncOperation{
		ID:         "op_" + uuid.NewString(),
		Kind:       kind,
		Collection: normalizeCollection(collection),
		ScopeID:    strings.TrimSpace(scopeID),
		Payload:    append([]Record(nil), payload...),
		EnqueuedAt: now,
	}
}

func (op SyncOperation) validate() error {
	if strings.TrimSpace(op.ID) == "" {
		return ErrInvalidInput
	}
	if op.Kind != OpSave && op.Kind != OpDelete {
		return ErrInvalidInput
	}
	if strings.TrimSpace(op.Collection) == "" || strings.TrimSpace(op.ScopeID) == "" {
		return ErrInvalidInput
	}
	return nil
}

// QueueStore is durable, transactional storage for SyncOperations keyed by
// operation ID. GetAll returns operations in enqueue order. Implementations
// enforce their capacity in Add and report ErrQueueFull when it is reached.
type QueueStore interface {
	Add(ctx context.Context, op SyncOperation) error
	GetAll(ctx context.Context) ([]SyncOperation, error)
	Update(ctx context.Context, op SyncOperation) error
	Delete(ctx context.Context, id string) error
	Depth() int
	Capacity() int
	Close() error
}

// MirrorStore is the local fallback copy of each collection, addressed by
// (collection, scope) and always overwritten whole by the latest write.
type MirrorStore interface {
	Load(ctx context.Context, collection, scopeID string) ([]Record, error)
	Save(ctx context.Context, collection, scopeID string, records []Record) error
	Close() error
}

// CollectionBackend is the remote contract for one collection. SaveItems has
// replace-all semantics; DeleteItems clears the scope entirely.
type CollectionBackend interface {
	GetItems(ctx context.Context, scopeID string) ([]Record, error)
	SaveItems(ctx context.Context, scopeID string, records []Record) error
	DeleteItems(ctx context.Context, scopeID string) error
}

type Logger interface {
	Printf(format string, args ...any)
}
