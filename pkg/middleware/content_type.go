package middleware

import (
	"mime"
	"net/http"

	apperrors "carrental/pkg/errors"
	"carrental/pkg/logger"
)

// ContentTypeValidation requires a JSON body on every request that carries one.
func ContentTypeValidation(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requiresContentType(r) {
				contentType := extractContentType(r.Header.Get("Content-Type"))

				if contentType != "application/json" {
					reject(w, log, r, "Invalid Content-Type header",
						apperrors.New(apperrors.CodeBadRequest, "Content-Type must be application/json", http.StatusUnsupportedMediaType),
						"content_type", contentType,
					)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requiresContentType skips bodiless writes such as PUT .../cancel.
func requiresContentType(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return r.ContentLength != 0
	}
	return false
}

func extractContentType(header string) string {
	if header == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mediaType
}
