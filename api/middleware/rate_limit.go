package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bondai/universal-reporter/api/responses"
	"github.com/bondai/universal-reporter/internal/relay"
	pkgerrors "github.com/bondai/universal-reporter/pkg/errors"
	"github.com/bondai/universal-reporter/pkg/logger"
)

type limiter interface {
	Enabled() bool
	Window() time.Duration
	Allow(ctx context.Context, origin, ip string) (relay.Decision, error)
}

// RateLimit throttles per merchant origin and per client address. A counter
// store failure lets the request through.
func RateLimit(l limiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || !l.Enabled() {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			origin := r.Header.Get("Origin")

			decision, err := l.Allow(ctx, origin, clientIP(r))
			if err != nil {
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "relay.rate_limit.unavailable")
				}
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				respondRateLimited(ctx, logg, w, l, decision, origin)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, l limiter, d relay.Decision, origin string) {
	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"scope":         d.Scope,
			"attempts":      d.Count,
			"limit":         d.Limit,
			"origin_domain": relay.OriginDomain(origin),
		})
		logg.Warn(logCtx, "relay.rate_limit.blocked")
	}
	if window := l.Window(); window > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
	}
	err := pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded")
	responses.WriteError(ctx, nil, w, err)
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
