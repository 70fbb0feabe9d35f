package controllers

import (
	"context"
	"net/http"

	"github.com/bondai/universal-reporter/api/middleware"
	"github.com/bondai/universal-reporter/api/responses"
	"github.com/bondai/universal-reporter/api/validators"
	"github.com/bondai/universal-reporter/internal/relay"
	pkgerrors "github.com/bondai/universal-reporter/pkg/errors"
	"github.com/bondai/universal-reporter/pkg/logger"
	"github.com/bondai/universal-reporter/pkg/types"
)

type RedemptionForwarder interface {
	Configured() bool
	Forward(ctx context.Context, req relay.Request) types.Envelope
}

// Redemptions checks configuration before it looks at the body, so an
// unconfigured relay answers 500 even to malformed requests.
func Redemptions(svc RedemptionForwarder, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || !svc.Configured() {
			if logg != nil {
				logg.Warn(ctx, "relay.configuration.missing")
			}
			responses.WriteEnvelope(w, relay.ConfigurationMissing())
			return
		}

		body, err := validators.ReadBody(w, r, maxBodyBytes)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var sub relay.Submission
		if err := validators.DecodeJSON(body, &sub); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		env := svc.Forward(ctx, relay.Request{
			Body:       body,
			Submission: sub,
			RequestID:  middleware.RequestIDFromContext(ctx),
			Origin:     r.Header.Get("Origin"),
		})
		responses.WriteEnvelope(w, env)
	}
}

func Preflight() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func MethodNotAllowed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", "POST, OPTIONS")
		responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeMethodNotAllowed, "method not allowed"))
	}
}

func NotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeNotFound, "resource not found"))
	}
}
