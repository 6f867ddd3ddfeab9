package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	apperrors "carrental/pkg/errors"
	"carrental/pkg/logger"
)

func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("Panic recovered",
						"request_id", logger.RequestIDFromContext(r.Context()),
						"error", rec,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)

					appErr := apperrors.Internal("Internal server error", fmt.Errorf("panic: %v", rec))
					if err := apperrors.WriteError(w, appErr); err != nil {
						log.Error("failed to write error response", "operation", "WriteError", "error", err)
					}
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
