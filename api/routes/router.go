package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bondai/universal-reporter/api/controllers"
	"github.com/bondai/universal-reporter/api/middleware"
	"github.com/bondai/universal-reporter/internal/relay"
	"github.com/bondai/universal-reporter/pkg/config"
	"github.com/bondai/universal-reporter/pkg/logger"
)

const RedemptionsPath = "/api/redemptions"

// NewRouter wires the relay surface. limiter, dbP, redisP and metricsHandler
// may be nil when the matching dependency is not configured.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	forwarder controllers.RedemptionForwarder,
	limiter *relay.Limiter,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.Relay.AllowedOrigins),
	)
	r.MethodNotAllowed(controllers.MethodNotAllowed())
	r.NotFound(controllers.NotFound())

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Options(RedemptionsPath, controllers.Preflight())
	r.With(middleware.RateLimit(limiter, logg)).
		Post(RedemptionsPath, controllers.Redemptions(forwarder, cfg.Relay.MaxBodyBytes, logg))

	return r
}
