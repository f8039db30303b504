package cloudsync

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tripweaver/tripsync/internal/tripsync"
)

const SignalSyncRequested = "SYNC_REQUESTED"

type SignalMessage struct {
	Type string `json:"type"`
}

type SignalListenerOptions struct {
	URL             string
	Token           string
	OnSyncRequested func()
	Logger          tripsync.Logger
	ReconnectBase   time.Duration
	ReconnectMax    time.Duration
}

// SignalListener holds a websocket open to the cloud API's signal feed and
// invokes the handler for every SYNC_REQUESTED message. Unknown signal types
// are logged and ignored. Disconnects reconnect with capped backoff.
type SignalListener struct {
	url             string
	token           string
	onSyncRequested func()
	logger          tripsync.Logger
	reconnectBase   time.Duration
	reconnectMax    time.Duration
}

func NewSignalListener(opts SignalListenerOptions) (*SignalListener, error) {
	signalURL := strings.TrimSpace(opts.URL)
	if signalURL == "" {
		return nil, fmt.Errorf("signal feed url is required")
	}
	if opts.OnSyncRequested == nil {
		return nil, fmt.Errorf("sync-requested handler is required")
	}
	reconnectBase := opts.ReconnectBase
	if reconnectBase <= 0 {
		reconnectBase = time.Second
	}
	reconnectMax := opts.ReconnectMax
	if reconnectMax <= 0 {
		reconnectMax = time.Minute
	}
	return &SignalListener{
		url:             signalURL,
		token:           strings.TrimSpace(opts.Token),
		onSyncRequested: opts.OnSyncRequested,
		logger:          opts.Logger,
		reconnectBase:   reconnectBase,
		reconnectMax:    reconnectMax,
	}, nil
}

// Run blocks until the context is cancelled, reconnecting after every
// disconnect.
func (l *SignalListener) Run(ctx context.Context) error {
	delay := l.reconnectBase
	for {
		received, err := l.listenOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = l.reconnectBase
		}
		l.logf("signal feed disconnected, reconnecting in %s: %v", delay, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > l.reconnectMax {
			delay = l.reconnectMax
		}
	}
}

func (l *SignalListener) listenOnce(ctx context.Context) (bool, error) {
	dialOpts := &websocket.DialOptions{}
	if l.token != "" {
		dialOpts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + l.token}}
	}
	conn, _, err := websocket.Dial(ctx, l.url, dialOpts)
	if err != nil {
		return false, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	received := false
	for {
		var msg SignalMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return received, err
		}
		received = true
		switch msg.Type {
		case SignalSyncRequested:
			l.onSyncRequested()
		default:
			l.logf("ignoring unknown signal type %q", msg.Type)
		}
	}
}

func (l *SignalListener) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}
