package tripsync

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileMirrorStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileMirrorStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileMirrorStore: %v", err)
	}
	records := []Record{{ID: "r1", Name: "Tent", Category: "gear"}}
	if err := store.Save(ctx, CollectionPackingItems, "trip1", records); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx, CollectionPackingItems, "trip1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r1" || got[0].Category != "gear" {
		t.Fatalf("unexpected records: %+v", got)
	}
}

func TestFileMirrorStoreMissingSnapshotIsEmpty(t *testing.T) {
	store, err := NewFileMirrorStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileMirrorStore: %v", err)
	}
	got, err := store.Load(context.Background(), CollectionMeals, "never-written")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("missing snapshot must load as empty non-nil slice, got %#v", got)
	}
}

func TestFileMirrorStoreEmptySnapshotIsNotMissing(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileMirrorStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileMirrorStore: %v", err)
	}
	if err := store.Save(ctx, CollectionTodos, "trip1", []Record{{Name: "Pack"}}); err != nil {
		t.Fatalf("seed Save: %v", err)
	}
	if err := store.Save(ctx, CollectionTodos, "trip1", nil); err != nil {
		t.Fatalf("clearing Save: %v", err)
	}
	got, err := store.Load(ctx, CollectionTodos, "trip1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("cleared snapshot must load empty, got %+v", got)
	}
}

func TestFileMirrorStoreScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileMirrorStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileMirrorStore: %v", err)
	}
	if err := store.Save(ctx, CollectionMeals, "trip1", []Record{{Name: "Chili"}}); err != nil {
		t.Fatalf("Save trip1: %v", err)
	}
	if err := store.Save(ctx, CollectionMeals, "trip2", []Record{{Name: "Stew"}}); err != nil {
		t.Fatalf("Save trip2: %v", err)
	}
	got1, _ := store.Load(ctx, CollectionMeals, "trip1")
	got2, _ := store.Load(ctx, CollectionMeals, "trip2")
	if len(got1) != 1 || got1[0].Name != "Chili" {
		t.Fatalf("trip1 snapshot polluted: %+v", got1)
	}
	if len(got2) != 1 || got2[0].Name != "Stew" {
		t.Fatalf("trip2 snapshot polluted: %+v", got2)
	}
}

func TestFileMirrorStoreEscapesHostileScopeIDs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFileMirrorStore(root)
	if err != nil {
		t.Fatalf("NewFileMirrorStore: %v", err)
	}
	scope := "../../etc/passwd"
	if err := store.Save(ctx, CollectionTodos, scope, []Record{{Name: "x"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx, CollectionTodos, scope)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("hostile scope round trip failed: %+v", got)
	}
	matches, err := filepath.Glob(filepath.Join(root, "*", "*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("snapshot must stay inside the root, found %v", matches)
	}
	if strings.Contains(matches[0], "..") {
		t.Fatalf("path traversal leaked into %s", matches[0])
	}
}

func TestFileMirrorStoreRejectsBlankKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileMirrorStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileMirrorStore: %v", err)
	}
	if _, err := store.Load(ctx, "", "trip1"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Load blank collection: %v", err)
	}
	if err := store.Save(ctx, CollectionMeals, " ", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Save blank scope: %v", err)
	}
}
