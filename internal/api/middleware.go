package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"agent-sentinel/internal/config"
)

// APIKeyHeader is the header carrying the client API key.
const APIKeyHeader = "X-API-Key"

// WithMiddleware wraps the handler with the standard middleware chain.
func WithMiddleware(handler http.Handler, cfg *config.Config, logger *slog.Logger) http.Handler {
	// Apply middleware in reverse order (last applied runs first)
	h := handler

	h = recoveryMiddleware(h, logger)
	h = loggingMiddleware(h, logger)

	if cfg.Auth.Enabled {
		h = authMiddleware(h, cfg.Auth)
	}
	if cfg.RateLimit.Enabled {
		h = rateLimitMiddleware(h, cfg.RateLimit, logger)
	}

	return h
}

// loggingMiddleware logs HTTP requests with a per-request ID.
func loggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(wrapped, r)

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"request_id", requestID,
		)
	})
}

// authMiddleware checks for a valid API key.
func authMiddleware(next http.Handler, authCfg config.AuthConfig) http.Handler {
	validKeys := make(map[string]bool)
	for _, key := range authCfg.APIKeys {
		validKeys[key] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and metrics stay reachable for probes and scrapers.
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := r.Header.Get(APIKeyHeader)
		if apiKey == "" {
			http.Error(w, `{"success":false,"error":"missing API key"}`, http.StatusUnauthorized)
			return
		}
		if !validKeys[apiKey] {
			http.Error(w, `{"success":false,"error":"invalid API key"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics.
func recoveryMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, `{"success":false,"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
