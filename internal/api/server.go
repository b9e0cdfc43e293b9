package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Go2NetSentinel/internal/logging"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/store"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 64 * 1024

// MetricsSource computes the dashboard rollup.
type MetricsSource interface {
	Metrics(ctx context.Context) (model.Metrics, error)
}

// Handler holds the dependencies for API handlers.
type Handler struct {
	store       store.Store
	metrics     MetricsSource
	broadcaster model.Broadcaster
	ws          http.Handler
	gatherer    prometheus.Gatherer
}

// Option customises a Handler.
type Option func(*Handler)

// WithWebSocket mounts the push channel at /ws.
func WithWebSocket(h http.Handler) Option {
	return func(a *Handler) { a.ws = h }
}

// WithGatherer replaces the registry exposed at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *Handler) { a.gatherer = g }
}

// NewHandler creates the API handler. bc receives ip-blocked and ip-unblocked events
// for changes made through the API.
func NewHandler(st store.Store, ms MetricsSource, bc model.Broadcaster, opts ...Option) *Handler {
	h := &Handler{store: st, metrics: ms, broadcaster: bc, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router builds the gorilla/mux router with every route.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/api/threats", h.listThreats).Methods(http.MethodGet)
	r.HandleFunc("/api/threats/{id}", h.getThreat).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics", h.getMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/blocked-ips", h.listBlocked).Methods(http.MethodGet)
	r.HandleFunc("/api/blocked-ips", h.blockIP).Methods(http.MethodPost)
	r.HandleFunc("/api/blocked-ips/{ip}", h.getBlocked).Methods(http.MethodGet)
	r.HandleFunc("/api/blocked-ips/{ip}", h.unblockIP).Methods(http.MethodDelete)

	if h.ws != nil {
		r.Handle("/ws", h.ws)
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

func (h *Handler) listThreats(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "limit must be an integer", Field: "limit"})
			return
		}
		limit = n
	}
	events, err := h.store.ListThreatEvents(r.Context(), limit)
	if err != nil {
		respondStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

func (h *Handler) getThreat(w http.ResponseWriter, r *http.Request) {
	ev, err := h.store.GetThreatEvent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(w, err, "threat event not found")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.metrics.Metrics(r.Context())
	if err != nil {
		respondStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) listBlocked(w http.ResponseWriter, r *http.Request) {
	blocked, err := h.store.ListBlockedAddresses(r.Context())
	if err != nil {
		respondStoreError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, nonNil(blocked))
}

func (h *Handler) getBlocked(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetBlockedAddress(r.Context(), mux.Vars(r)["ip"])
	if err != nil {
		respondStoreError(w, err, "IP not found in blocked list")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) blockIP(w http.ResponseWriter, r *http.Request) {
	var req model.BlockRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "request body must be a JSON object"})
		return
	}
	rec, err := h.store.BlockAddress(r.Context(), req)
	if err != nil {
		respondStoreError(w, err, "")
		return
	}
	h.broadcaster.Broadcast(model.EventIPBlocked, rec)
	logging.Info().Str("ip", rec.IPAddress).Str("reason", rec.Reason).Msg("source blocked via API")
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) unblockIP(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	removed, err := h.store.UnblockAddress(r.Context(), ip)
	if err != nil {
		respondStoreError(w, err, "")
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, "not_found", "IP not found in blocked list")
		return
	}
	h.broadcaster.Broadcast(model.EventIPUnblocked, model.UnblockedPayload{IPAddress: ip})
	logging.Info().Str("ip", ip).Msg("source unblocked via API")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument records request counts and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if route == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.APIRequestSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("http request")
	})
}
