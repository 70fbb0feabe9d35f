package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bondai/universal-reporter/internal/relay"
	"github.com/bondai/universal-reporter/pkg/config"
	pkgerrors "github.com/bondai/universal-reporter/pkg/errors"
	"github.com/bondai/universal-reporter/pkg/types"
)

type fakeRateStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeRateStore() *fakeRateStore {
	return &fakeRateStore{counts: map[string]int64{}}
}

func (f *fakeRateStore) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, 0, f.err
	}
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func post(origin, remote string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/redemptions", strings.NewReader(`{}`))
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	req.RemoteAddr = remote
	return req
}

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	l := relay.NewLimiter(newFakeRateStore(), config.RateLimitConfig{Window: time.Minute, OriginLimit: 2, IPLimit: 2}, nil)
	handler := RateLimit(l, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, post("https://shop.example.com", "1.2.3.4:5678"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_OriginLimitTriggers(t *testing.T) {
	l := relay.NewLimiter(newFakeRateStore(), config.RateLimitConfig{Window: time.Minute, OriginLimit: 2}, nil)
	handler := RateLimit(l, nil)(okHandler())

	for i, remote := range []string{"1.1.1.1:1", "2.2.2.2:2", "3.3.3.3:3"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, post("https://www.shop.example.com", remote))

		switch {
		case i < 2 && rec.Code != http.StatusOK:
			t.Fatalf("expected success before limit, got %d", rec.Code)
		case i >= 2:
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != "60" {
				t.Fatalf("unexpected Retry-After %q", got)
			}
			var env types.Envelope
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if env.OK || env.Status != http.StatusTooManyRequests || env.Errors[0].Code != string(pkgerrors.CodeRateLimit) {
				t.Fatalf("unexpected envelope: %+v", env)
			}
		}
	}
}

func TestRateLimit_IPLimitUsesForwardedFor(t *testing.T) {
	l := relay.NewLimiter(newFakeRateStore(), config.RateLimitConfig{Window: time.Minute, IPLimit: 1}, nil)
	handler := RateLimit(l, nil)(okHandler())

	for i := 0; i < 2; i++ {
		req := post("", "10.0.0.1:1234")
		req.Header.Set("X-Forwarded-For", "5.6.7.8, 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if i == 0 && rec.Code != http.StatusOK {
			t.Fatalf("expected success, got %d", rec.Code)
		}
		if i == 1 && rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
	}
}

func TestRateLimit_FailsOpenOnStoreError(t *testing.T) {
	store := newFakeRateStore()
	store.err = errors.New("redis down")
	l := relay.NewLimiter(store, config.RateLimitConfig{Window: time.Minute, IPLimit: 1}, nil)
	handler := RateLimit(l, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, post("", "1.2.3.4:5678"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	handler := RateLimit(relay.NewLimiter(nil, config.RateLimitConfig{}, nil), nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, post("", "1.2.3.4:5678"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "req-42" || rec.Header().Get(requestIDHeader) != "req-42" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get(requestIDHeader))
	}
}

func TestRequestIDReplacesUnsafeValue(t *testing.T) {
	handler := RequestID(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\nwith newline")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	got := rec.Header().Get(requestIDHeader)
	if got == "" || strings.ContainsAny(got, " \n") {
		t.Fatalf("unsafe request id kept: %q", got)
	}
}
