package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	apperrors "github.com/3leaps/tunegrab/internal/errors"
)

// corsMaxAge is how long browsers may cache a preflight answer, in seconds.
const corsMaxAge = 300

// CORS allows any origin. The service is meant for browser clients on the
// local network and carries no credentials.
var CORS = cors.Handler(cors.Options{
	AllowedOrigins:   []string{"*"},
	AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
	AllowedHeaders:   []string{"Accept", "Content-Type", apperrors.RequestIDHeader},
	ExposedHeaders:   []string{apperrors.RequestIDHeader},
	AllowCredentials: false,
	MaxAge:           corsMaxAge,
})
