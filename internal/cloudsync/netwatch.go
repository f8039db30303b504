package cloudsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tripweaver/tripsync/internal/tripsync"
)

type NetWatcherOptions struct {
	// StatePath is the netstate file maintained by the platform (e.g. a
	// NetworkManager dispatcher script). Its content is "online" or
	// "offline"; a missing file counts as offline.
	StatePath string
	OnOnline  func()
	OnOffline func()
	Logger    tripsync.Logger
}

// NetWatcher turns edits of the netstate file into online/offline
// transitions. Callbacks fire only on transitions, never on repeated
// identical states.
type NetWatcher struct {
	statePath string
	onOnline  func()
	onOffline func()
	logger    tripsync.Logger

	mu     sync.Mutex
	online bool
}

func NewNetWatcher(opts NetWatcherOptions) (*NetWatcher, error) {
	statePath := strings.TrimSpace(opts.StatePath)
	if statePath == "" {
		return nil, fmt.Errorf("netstate path is required")
	}
	w := &NetWatcher{
		statePath: statePath,
		onOnline:  opts.OnOnline,
		onOffline: opts.OnOffline,
		logger:    opts.Logger,
	}
	// Seed the current state without firing callbacks; only transitions
	// observed while running count as events.
	w.online = readNetState(statePath)
	return w, nil
}

func (w *NetWatcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Run blocks until the context is cancelled, watching the netstate file's
// directory so the file may be created, replaced, or removed while running.
func (w *NetWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.statePath)); err != nil {
		return err
	}
	// Catch a state change that landed between construction and the watch.
	w.Refresh()

	target := filepath.Clean(w.statePath)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.Refresh()
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logf("netstate watcher error: %v", watchErr)
		}
	}
}

// Refresh re-reads the netstate file and fires the transition callback when
// the state flipped.
func (w *NetWatcher) Refresh() {
	online := readNetState(w.statePath)
	w.mu.Lock()
	changed := online != w.online
	w.online = online
	w.mu.Unlock()
	if !changed {
		return
	}
	if online {
		w.logf("connectivity restored")
		if w.onOnline != nil {
			w.onOnline()
		}
		return
	}
	w.logf("connectivity lost")
	if w.onOffline != nil {
		w.onOffline()
	}
}

func (w *NetWatcher) logf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}

func readNetState(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(string(data))) {
	case "online", "up", "1", "true":
		return true
	default:
		return false
	}
}
