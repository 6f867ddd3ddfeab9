package middleware

import (
	"net/http"

	apperrors "carrental/pkg/errors"
	"carrental/pkg/logger"
)

// reject logs why a request was refused and answers with appErr.
func reject(w http.ResponseWriter, log *logger.Logger, r *http.Request, msg string, appErr *apperrors.AppError, args ...any) {
	args = append([]any{
		"request_id", logger.RequestIDFromContext(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	}, args...)
	log.Warn(msg, args...)

	if err := apperrors.WriteError(w, appErr); err != nil {
		log.Error("failed to write error response", "operation", "WriteError", "error", err)
	}
}
