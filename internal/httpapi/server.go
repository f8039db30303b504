package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tripweaver/tripsync/internal/tripsync"
)

type ServerConfig struct {
	// AuthToken guards the API with a static bearer token. Empty means open,
	// intended only for loopback-bound development daemons.
	AuthToken    string
	DrainTimeout time.Duration
}

// Server is the local API the consumer app talks to: trip collection CRUD
// routed through the hybrid facade, plus sync status for the "unsynced
// changes" indicator and an explicit background-sync entry point.
type Server struct {
	queue  *tripsync.SyncQueue
	facade *tripsync.Facade
	cfg    ServerConfig
	logger tripsync.Logger
}

func NewServer(queue *tripsync.SyncQueue, facade *tripsync.Facade, cfg ServerConfig, logger tripsync.Logger) *Server {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Server{queue: queue, facade: facade, cfg: cfg, logger: logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}
	switch {
	case r.URL.Path == "/v1/sync/status" && r.Method == http.MethodGet:
		s.handleStatus(w, r)
	case r.URL.Path == "/v1/sync/drain" && r.Method == http.MethodPost:
		s.handleDrain(w, r)
	default:
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if len(parts) == 4 && parts[0] == "v1" && parts[1] == "trips" {
			s.handleCollection(w, r, parts[2], parts[3])
			return
		}
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request, tripID, collection string) {
	if s.facade == nil {
		writeError(w, http.StatusNotFound, "not_found", "collection routes disabled")
		return
	}
	store := s.facade.Store(collection)
	if store == nil {
		writeError(w, http.StatusNotFound, "unknown_collection", "unknown collection: "+collection)
		return
	}
	switch r.Method {
	case http.MethodGet:
		records, err := store.Get(r.Context(), tripID)
		if err != nil {
			s.logf("get %s/%s failed: %v", collection, tripID, err)
			writeError(w, http.StatusInternalServerError, "internal", "read failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": records})
	case http.MethodPut:
		var payload struct {
			Items []tripsync.Record `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
			return
		}
		// An empty items array clears the whole scope; it is not a no-op.
		if err := store.Save(r.Context(), tripID, payload.Items); err != nil {
			s.logf("save %s/%s failed: %v", collection, tripID, err)
			writeError(w, http.StatusInternalServerError, "internal", "write failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.queue.PendingCount(r.Context())
	if err != nil {
		s.logf("pending count failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to read queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":  pending,
		"draining": s.queue.Draining(),
	})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.DrainTimeout)
	defer cancel()
	stats, err := s.queue.Drain(ctx)
	if err != nil {
		s.logf("drain failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "drain failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"skipped":   stats.Skipped,
		"delivered": stats.Delivered,
		"retried":   stats.Retried,
		"dropped":   stats.Dropped,
	})
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}
