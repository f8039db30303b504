package cloudsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeNetState(t *testing.T, path, state string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(state+"\n"), 0o644); err != nil {
		t.Fatalf("write netstate: %v", err)
	}
}

func TestNetWatcherSeedsInitialState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netstate")
	writeNetState(t, path, "online")

	fired := false
	w, err := NewNetWatcher(NetWatcherOptions{
		StatePath: path,
		OnOnline:  func() { fired = true },
	})
	if err != nil {
		t.Fatalf("NewNetWatcher: %v", err)
	}
	if !w.Online() {
		t.Fatal("watcher must seed from the existing file")
	}
	if fired {
		t.Fatal("seeding must not fire callbacks")
	}
}

func TestNetWatcherMissingFileIsOffline(t *testing.T) {
	w, err := NewNetWatcher(NetWatcherOptions{
		StatePath: filepath.Join(t.TempDir(), "netstate"),
	})
	if err != nil {
		t.Fatalf("NewNetWatcher: %v", err)
	}
	if w.Online() {
		t.Fatal("missing netstate file must read as offline")
	}
}

func TestNetWatcherRefreshFiresOnTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netstate")
	writeNetState(t, path, "offline")

	var onlineCalls, offlineCalls int
	w, err := NewNetWatcher(NetWatcherOptions{
		StatePath: path,
		OnOnline:  func() { onlineCalls++ },
		OnOffline: func() { offlineCalls++ },
	})
	if err != nil {
		t.Fatalf("NewNetWatcher: %v", err)
	}

	// Same state again: no transition, no callback.
	w.Refresh()
	if onlineCalls != 0 || offlineCalls != 0 {
		t.Fatalf("no-op refresh fired callbacks: online=%d offline=%d", onlineCalls, offlineCalls)
	}

	writeNetState(t, path, "online")
	w.Refresh()
	if onlineCalls != 1 {
		t.Fatalf("expected one online transition, got %d", onlineCalls)
	}
	w.Refresh()
	if onlineCalls != 1 {
		t.Fatalf("repeated online state must not re-fire, got %d", onlineCalls)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove netstate: %v", err)
	}
	w.Refresh()
	if offlineCalls != 1 {
		t.Fatalf("removed file must transition to offline, got %d", offlineCalls)
	}
}

func TestNetWatcherRunObservesFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netstate")
	writeNetState(t, path, "offline")

	online := make(chan struct{}, 1)
	w, err := NewNetWatcher(NetWatcherOptions{
		StatePath: path,
		OnOnline: func() {
			select {
			case online <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("NewNetWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Give the watcher a moment to install before mutating the file.
	time.Sleep(100 * time.Millisecond)
	writeNetState(t, path, "online")

	select {
	case <-online:
	case <-time.After(5 * time.Second):
		t.Fatal("online transition never observed")
	}
	if !w.Online() {
		t.Fatal("Online() must reflect the new state")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

func TestReadNetStateValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netstate")
	cases := map[string]bool{
		"online":    true,
		"  Online ": true,
		"up":        true,
		"1":         true,
		"true":      true,
		"offline":   false,
		"down":      false,
		"":          false,
		"garbage":   false,
	}
	for content, want := range cases {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if got := readNetState(path); got != want {
			t.Errorf("readNetState(%q) = %v, want %v", content, got, want)
		}
	}
}
