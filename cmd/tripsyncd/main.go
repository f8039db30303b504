package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tripweaver/tripsync/internal/cloudsync"
	"github.com/tripweaver/tripsync/internal/httpapi"
	"github.com/tripweaver/tripsync/internal/tripsync"
)

func main() {
	listen := flag.String("listen", envOrDefault("TRIPSYNC_LISTEN", "127.0.0.1:8787"), "status API listen address")
	remoteURL := flag.String("remote-url", envOrDefault("TRIPSYNC_REMOTE_URL", "https://api.tripweaver.app"), "cloud API base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("TRIPSYNC_TOKEN")), "cloud API bearer token")
	queueDSN := flag.String("queue", envOrDefault("TRIPSYNC_QUEUE", "sqlite:tripsync.db"), "queue store DSN (file:, memory:, sqlite:, postgres:)")
	mirrorDSN := flag.String("mirror", envOrDefault("TRIPSYNC_MIRROR", "sqlite:tripsync.db"), "mirror store DSN")
	queueCapacity := flag.Int("queue-capacity", intEnv("TRIPSYNC_QUEUE_CAPACITY", 1024), "maximum queued operations")
	netstate := flag.String("netstate", envOrDefault("TRIPSYNC_NETSTATE", "/run/tripsync/netstate"), "platform netstate file")
	signalsURL := flag.String("signals-url", strings.TrimSpace(os.Getenv("TRIPSYNC_SIGNALS_URL")), "websocket sync signal feed URL (optional)")
	apiToken := flag.String("api-token", strings.TrimSpace(os.Getenv("TRIPSYNC_API_TOKEN")), "status API bearer token (optional)")
	drainTimeout := flag.Duration("drain-timeout", durationEnv("TRIPSYNC_DRAIN_TIMEOUT", 30*time.Second), "per-drain timeout")
	flag.Parse()

	logger := log.Default()

	client := cloudsync.NewClient(cloudsync.ClientOptions{
		BaseURL:   *remoteURL,
		Token:     *token,
		UserAgent: "tripsyncd",
	})
	registry := tripsync.NewBackendRegistry()
	cloudsync.RegisterCollections(registry, client)

	queueStore, err := tripsync.BuildQueueStoreFromDSN(*queueDSN, *queueCapacity, logger)
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	defer queueStore.Close()
	mirrorStore, err := tripsync.BuildMirrorStoreFromDSN(*mirrorDSN, logger)
	if err != nil {
		log.Fatalf("failed to open mirror store: %v", err)
	}
	defer mirrorStore.Close()

	var watcher *cloudsync.NetWatcher
	online := func() bool {
		if watcher == nil {
			return true
		}
		return watcher.Online()
	}

	queue, err := tripsync.NewSyncQueue(tripsync.SyncQueueOptions{
		Store:    queueStore,
		Backends: registry,
		Online:   online,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to build sync queue: %v", err)
	}

	facade, err := tripsync.NewFacade(registry, mirrorStore, queue, online, logger)
	if err != nil {
		log.Fatalf("failed to build data facade: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kickDrain := func() {
		go func() {
			if _, drainErr := queue.Drain(ctx); drainErr != nil {
				logger.Printf("drain failed: %v", drainErr)
			}
		}()
	}

	watcher, err = cloudsync.NewNetWatcher(cloudsync.NetWatcherOptions{
		StatePath: *netstate,
		OnOnline:  kickDrain,
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("failed to build connectivity watcher: %v", err)
	}
	go func() {
		if watchErr := watcher.Run(ctx); watchErr != nil && ctx.Err() == nil {
			logger.Printf("connectivity watcher stopped: %v", watchErr)
		}
	}()

	if *signalsURL != "" {
		listener, listenerErr := cloudsync.NewSignalListener(cloudsync.SignalListenerOptions{
			URL:             *signalsURL,
			Token:           *token,
			OnSyncRequested: kickDrain,
			Logger:          logger,
		})
		if listenerErr != nil {
			log.Fatalf("failed to build signal listener: %v", listenerErr)
		}
		go func() {
			if runErr := listener.Run(ctx); runErr != nil && ctx.Err() == nil {
				logger.Printf("signal listener stopped: %v", runErr)
			}
		}()
	}

	server := &http.Server{
		Addr: *listen,
		Handler: httpapi.NewServer(queue, facade, httpapi.ServerConfig{
			AuthToken:    *apiToken,
			DrainTimeout: *drainTimeout,
		}, logger),
	}
	go func() {
		logger.Printf("tripsyncd listening on %s", *listen)
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatalf("status API failed: %v", serveErr)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Printf("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return parsed
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return parsed
}
