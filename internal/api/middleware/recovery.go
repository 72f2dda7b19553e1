// Package middleware provides HTTP middleware components for the run control plane API.
package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// recoveredBody is the wire envelope written when a handler panics, matching
// the {"ok": false, ...} shape state-changing endpoints use.
type recoveredBody struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
	Status int    `json:"status"`
}

// Recovery creates a middleware that recovers from panics and logs them.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func(ctx context.Context) {
				if err := recover(); err != nil {
					correlationID := GetCorrelationID(ctx)

					logger.Error("HTTP request panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("correlation_id", correlationID),
						slog.Any("panic", err),
						slog.String("stack_trace", string(debug.Stack())),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)

					body := recoveredBody{OK: false, Reason: "transient", Status: http.StatusInternalServerError}
					if err := json.NewEncoder(w).Encode(body); err != nil {
						logger.Error(
							"failed to encode error response",
							slog.Any("error", err),
							slog.String("correlation_id", correlationID),
						)
					}
				}
			}(r.Context())

			next.ServeHTTP(w, r)
		})
	}
}
