package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bondai/universal-reporter/internal/relay"
	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/hub"
	"github.com/bondai/universal-reporter/pkg/metrics"
	"github.com/bondai/universal-reporter/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const validBody = `{"member_partner_key":"BAURLMID1234567890","timestamp":"2026-03-01T12:00:00.000Z","offer_amount":79.99,"offer_savings_amount":10}`

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type upstream struct {
	status  int
	body    string
	gotKey  string
	gotBody string
}

func (u *upstream) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.gotKey = r.Header.Get(hub.APIKeyHeader)
		raw, _ := io.ReadAll(r.Body)
		u.gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(u.status)
		_, _ = w.Write([]byte(u.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T, upstreamURL string, dbP, redisP stubPinger) (http.Handler, *prometheus.Registry) {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{Env: "test"},
		Relay: config.RelayConfig{
			UpstreamURL:    upstreamURL,
			UpstreamKey:    "server-key",
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1 << 16,
		},
	}
	if upstreamURL == "" {
		cfg.Relay.UpstreamKey = ""
	}
	reg := prometheus.NewRegistry()
	svc, err := relay.New(relay.Params{Config: cfg.Relay, Metrics: metrics.NewRelayMetrics(reg)})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	h := NewRouter(cfg, nil, svc, nil, dbP, redisP, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return h, reg
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://shop.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func envelope(t *testing.T, rec *httptest.ResponseRecorder) types.Envelope {
	t.Helper()
	var env types.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestRedemptionForwardsWithServerKey(t *testing.T) {
	up := &upstream{status: http.StatusOK, body: `{"success":true,"data":{"id":"r-1"}}`}
	h, _ := newTestRouter(t, up.server(t).URL, stubPinger{}, stubPinger{})

	rec := do(h, http.MethodPost, RedemptionsPath, validBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	env := envelope(t, rec)
	if !env.OK || env.Status != http.StatusOK || env.Errors != nil {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if up.gotKey != "server-key" {
		t.Fatalf("upstream key %q", up.gotKey)
	}
	if up.gotBody != validBody {
		t.Fatalf("upstream body %q", up.gotBody)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestRedemptionMirrorsUpstreamFailure(t *testing.T) {
	up := &upstream{status: http.StatusUnauthorized, body: `{"success":false,"error":"invalid key"}`}
	h, _ := newTestRouter(t, up.server(t).URL, stubPinger{}, stubPinger{})

	rec := do(h, http.MethodPost, RedemptionsPath, validBody)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	env := envelope(t, rec)
	if env.OK || len(env.Errors) != 1 || env.Errors[0].Message != "Bondai API request failed." || env.Errors[0].Status != 401 {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestRedemptionNetworkError(t *testing.T) {
	h, _ := newTestRouter(t, "http://127.0.0.1:1/nowhere", stubPinger{}, stubPinger{})

	rec := do(h, http.MethodPost, RedemptionsPath, validBody)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	env := envelope(t, rec)
	if env.Errors[0].Message != relay.MessageNetwork {
		t.Fatalf("unexpected message %q", env.Errors[0].Message)
	}
}

func TestRedemptionInvalidJSON(t *testing.T) {
	up := &upstream{status: http.StatusOK, body: `{}`}
	h, _ := newTestRouter(t, up.server(t).URL, stubPinger{}, stubPinger{})

	rec := do(h, http.MethodPost, RedemptionsPath, `{"member_partner_key":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	env := envelope(t, rec)
	if env.Errors[0].Message != "Invalid JSON payload." {
		t.Fatalf("unexpected message %q", env.Errors[0].Message)
	}
	if up.gotBody != "" {
		t.Fatalf("upstream should not be called")
	}
}

func TestRedemptionUnconfigured(t *testing.T) {
	h, _ := newTestRouter(t, "", stubPinger{}, stubPinger{})

	rec := do(h, http.MethodPost, RedemptionsPath, `not json`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	env := envelope(t, rec)
	if env.Errors[0].Message != "Bondai API configuration missing on server." {
		t.Fatalf("unexpected message %q", env.Errors[0].Message)
	}
}

func TestRedemptionMethods(t *testing.T) {
	h, _ := newTestRouter(t, "", stubPinger{}, stubPinger{})

	rec := do(h, http.MethodGet, RedemptionsPath, "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	env := envelope(t, rec)
	if env.Errors[0].Message != "Method not allowed. Use POST." {
		t.Fatalf("unexpected message %q", env.Errors[0].Message)
	}
	if rec.Header().Get("Allow") == "" {
		t.Fatalf("missing Allow header")
	}

	rec = do(h, http.MethodOptions, RedemptionsPath, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newTestRouter(t, "", stubPinger{}, stubPinger{})
	rec := do(h, http.MethodGet, "/health/live", "")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Bondai-Env") != "test" {
		t.Fatalf("live: %d %v", rec.Code, rec.Header())
	}
	rec = do(h, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: %d", rec.Code)
	}

	h, _ = newTestRouter(t, "", stubPinger{err: errors.New("db down")}, stubPinger{})
	rec = do(h, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsEndpointExposesRelayCounters(t *testing.T) {
	up := &upstream{status: http.StatusOK, body: `{"success":true}`}
	h, _ := newTestRouter(t, up.server(t).URL, stubPinger{}, stubPinger{})
	do(h, http.MethodPost, RedemptionsPath, validBody)

	rec := do(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `bondai_relay_forward_total{status="200"} 1`) {
		t.Fatalf("forward counter missing:\n%s", rec.Body.String())
	}
}
