package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{"*"}

// CORS lets merchant pages on any origin post attribution records. OPTIONS
// requests pass through so the route can answer them itself.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	return cors.New(cors.Options{
		AllowedOrigins:     origins,
		AllowedMethods:     []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type"},
		ExposedHeaders:     []string{requestIDHeader},
		AllowCredentials:   false,
		MaxAge:             300,
		OptionsPassthrough: true,
	}).Handler
}
