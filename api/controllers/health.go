package controllers

import (
	"context"
	"net/http"

	"github.com/bondai/universal-reporter/api/responses"
	"github.com/bondai/universal-reporter/pkg/config"
	pkgerrors "github.com/bondai/universal-reporter/pkg/errors"
	"github.com/bondai/universal-reporter/pkg/logger"
)

const envHeader = "X-Bondai-Env"

type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the optional dependencies; a nil pinger is reported as
// disabled rather than failing readiness.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx := r.Context()

		checks := map[string]string{}
		failed := map[string]any{}
		for name, p := range map[string]Pinger{"database": dbP, "redis": redisP} {
			if p == nil {
				checks[name] = "disabled"
				continue
			}
			if err := p.Ping(ctx); err != nil {
				checks[name] = "unavailable"
				failed[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		if cfg.Relay.Configured() {
			checks["upstream"] = "configured"
		} else {
			checks["upstream"] = "missing"
		}

		if len(failed) > 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(failed))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
