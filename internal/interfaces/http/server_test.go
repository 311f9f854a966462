package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cornd/internal/admission"
	"github.com/sawpanic/cornd/internal/config"
	"github.com/sawpanic/cornd/internal/interfaces/http/handlers"
	"github.com/sawpanic/cornd/internal/ledger"
	"github.com/sawpanic/cornd/internal/net/ratelimit"
)

type stubAdmission struct {
	decision admission.Decision
}

func (s *stubAdmission) Admit(ctx context.Context, clientID string) (*ledger.Purchase, admission.Decision, error) {
	if !s.decision.Allowed {
		return nil, s.decision, nil
	}
	return &ledger.Purchase{ID: 1, ClientID: clientID, PurchasedAt: time.Now()}, s.decision, nil
}

type stubStats struct{}

func (s *stubStats) Stats(ctx context.Context, clientID string) (*ledger.Stats, error) {
	return &ledger.Stats{ClientID: clientID}, nil
}

func newTestServer(t *testing.T, floodGuard *ratelimit.Limiter) *Server {
	t.Helper()

	h := handlers.NewHandlers(&stubAdmission{decision: admission.Decision{Allowed: true}}, &stubStats{}, nil, nil)
	cfg := config.Default().Server
	return NewServer(cfg, h, NewMetricsRegistry(), floodGuard)
}

func TestServer_Routes(t *testing.T) {
	server := newTestServer(t, nil)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"buy_corn", http.MethodPost, "/api/buy-corn", http.StatusOK},
		{"buy_corn_wrong_method", http.MethodGet, "/api/buy-corn", http.StatusMethodNotAllowed},
		{"stats", http.MethodGet, "/api/stats/alice", http.StatusOK},
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"unknown_route", http.MethodGet, "/api/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("x-client-id", "alice")
			w := httptest.NewRecorder()

			server.Router().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestServer_RequestIDHeader(t *testing.T) {
	server := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	assert.Len(t, w.Header().Get("X-Request-ID"), 8)
}

func TestServer_CORSPreflight(t *testing.T) {
	server := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/buy-corn", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()

	server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "x-client-id")
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestServer_FloodGuardSheds(t *testing.T) {
	// One token, no refill to speak of: the second request in the same
	// instant must be shed before reaching the decider.
	server := newTestServer(t, ratelimit.NewLimiter(0.01, 1))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/buy-corn", nil)
	req.Header.Set("x-client-id", "flooder")
	server.Router().ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/buy-corn", nil)
	req.Header.Set("x-client-id", "flooder")
	server.Router().ServeHTTP(second, req)

	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "retryAfter")
}

func TestServer_FloodGuardIsPerClient(t *testing.T) {
	server := newTestServer(t, ratelimit.NewLimiter(0.01, 1))

	for _, client := range []string{"alice", "bob"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/buy-corn", nil)
		req.Header.Set("x-client-id", client)
		server.Router().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, "client %s has its own bucket", client)
	}
}

func TestServer_DeniedPurchaseThroughRouter(t *testing.T) {
	h := handlers.NewHandlers(&stubAdmission{decision: admission.Decision{Allowed: false, RetryAfter: 42}}, &stubStats{}, nil, nil)
	server := NewServer(config.Default().Server, h, nil, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/buy-corn", nil)
	req.Header.Set("x-client-id", "alice")
	server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
}
