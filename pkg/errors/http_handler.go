package errors

import (
	"encoding/json"
	"net/http"
)

// WriteError renders err with the status of its *AppError. Anything else is a 500
// whose cause is not exposed.
func WriteError(w http.ResponseWriter, err error) error {
	appErr := AsAppError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode())
	return json.NewEncoder(w).Encode(appErr.Response())
}
