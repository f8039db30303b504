package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/tripweaver/tripsync/internal/cloudsync"
	"github.com/tripweaver/tripsync/internal/tripsync"
)

// tripsync runs one drain pass against the cloud API and exits, for cron
// jobs and scripts that do not want the resident daemon.
func main() {
	remoteURL := flag.String("remote-url", envOrDefault("TRIPSYNC_REMOTE_URL", "https://api.tripweaver.app"), "cloud API base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("TRIPSYNC_TOKEN")), "cloud API bearer token")
	queueDSN := flag.String("queue", envOrDefault("TRIPSYNC_QUEUE", "sqlite:tripsync.db"), "queue store DSN")
	timeout := flag.Duration("timeout", 60*time.Second, "overall timeout")
	countOnly := flag.Bool("count-only", false, "print the pending operation count and exit")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	queueStore, err := tripsync.BuildQueueStoreFromDSN(*queueDSN, 0, logger)
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	defer queueStore.Close()

	client := cloudsync.NewClient(cloudsync.ClientOptions{
		BaseURL:   *remoteURL,
		Token:     *token,
		UserAgent: "tripsync",
	})
	registry := tripsync.NewBackendRegistry()
	cloudsync.RegisterCollections(registry, client)

	queue, err := tripsync.NewSyncQueue(tripsync.SyncQueueOptions{
		Store:    queueStore,
		Backends: registry,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to build sync queue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *countOnly {
		pending, countErr := queue.PendingCount(ctx)
		if countErr != nil {
			log.Fatalf("failed to read queue: %v", countErr)
		}
		fmt.Println(pending)
		return
	}

	stats, err := queue.Drain(ctx)
	if err != nil {
		log.Fatalf("drain failed: %v", err)
	}
	fmt.Printf("delivered=%d retried=%d dropped=%d\n", stats.Delivered, stats.Retried, stats.Dropped)
	if stats.Retried > 0 {
		os.Exit(1)
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
