package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/sawpanic/cornd/internal/admission"
	httpContracts "github.com/sawpanic/cornd/internal/http"
	"github.com/sawpanic/cornd/internal/ledger"
)

// AdmissionService is the slice of the decider the buy handler needs.
type AdmissionService interface {
	Admit(ctx context.Context, clientID string) (*ledger.Purchase, admission.Decision, error)
}

// StatsReader is the slice of the ledger the stats handler needs.
type StatsReader interface {
	Stats(ctx context.Context, clientID string) (*ledger.Stats, error)
}

// StorePinger reports store connectivity for the health probe.
type StorePinger interface {
	Ping(ctx context.Context) error
	Stats() map[string]interface{}
}

// Metrics receives purchase outcome counts. Implemented by the server
// package's metrics registry; nil disables counting.
type Metrics interface {
	IncPurchases()
	IncDenials()
	IncStoreErrors()
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	admission AdmissionService
	stats     StatsReader
	store     StorePinger
	metrics   Metrics
}

// NewHandlers creates a handlers instance with its collaborators
// injected. store and metrics may be nil (health then reports only
// liveness; outcomes go uncounted).
func NewHandlers(adm AdmissionService, stats StatsReader, store StorePinger, metrics Metrics) *Handlers {
	return &Handlers{
		admission: adm,
		stats:     stats,
		store:     store,
		metrics:   metrics,
	}
}

// ClientIdentity derives the purchasing identity for a request: the
// trimmed x-client-id header when present, otherwise the host part of
// the peer address. Empty means the request cannot be attributed.
// The value is computed from immutable request fields, never stored
// back onto the request.
func ClientIdentity(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("x-client-id")); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, httpContracts.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Route "+r.Method+" "+r.URL.Path+" not found")
}

func (h *Handlers) incPurchases() {
	if h.metrics != nil {
		h.metrics.IncPurchases()
	}
}

func (h *Handlers) incDenials() {
	if h.metrics != nil {
		h.metrics.IncDenials()
	}
}

func (h *Handlers) incStoreErrors() {
	if h.metrics != nil {
		h.metrics.IncStoreErrors()
	}
}
