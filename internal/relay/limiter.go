package relay

import (
	"context"
	"time"

	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/metrics"
)

const (
	ScopeOrigin = "origin"
	ScopeIP     = "ip"
)

// CounterStore is satisfied by pkg/redis.Client.
type CounterStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Decision explains a limiter verdict; Scope names the bucket that refused.
type Decision struct {
	Allowed bool
	Scope   string
	Count   int64
	Limit   int
}

// Limiter applies fixed-window limits per merchant origin and per client.
type Limiter struct {
	store   CounterStore
	cfg     config.RateLimitConfig
	metrics *metrics.RelayMetrics
}

func NewLimiter(store CounterStore, cfg config.RateLimitConfig, m *metrics.RelayMetrics) *Limiter {
	return &Limiter{store: store, cfg: cfg, metrics: m}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.store != nil && l.cfg.Window > 0 && (l.cfg.OriginLimit > 0 || l.cfg.IPLimit > 0)
}

func (l *Limiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.cfg.Window
}

// Allow checks the origin bucket first, then the client bucket. A store error
// is returned with an allowing decision; callers decide whether to fail open.
func (l *Limiter) Allow(ctx context.Context, origin, ip string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	if domain := OriginDomain(origin); domain != "" && l.cfg.OriginLimit > 0 {
		if d, err := l.check(ctx, ScopeOrigin, domain, l.cfg.OriginLimit); err != nil || !d.Allowed {
			return d, err
		}
	}
	if fp := Fingerprint(ip); fp != "" && l.cfg.IPLimit > 0 {
		if d, err := l.check(ctx, ScopeIP, fp, l.cfg.IPLimit); err != nil || !d.Allowed {
			return d, err
		}
	}
	return Decision{Allowed: true}, nil
}

func (l *Limiter) check(ctx context.Context, scope, bucket string, limit int) (Decision, error) {
	allowed, count, err := l.store.FixedWindowAllow(ctx, scope+":"+bucket, int64(limit), l.cfg.Window)
	if err != nil {
		return Decision{Allowed: true, Scope: scope}, err
	}
	if !allowed {
		l.metrics.IncThrottled(scope)
	}
	return Decision{Allowed: allowed, Scope: scope, Count: count, Limit: limit}, nil
}
