package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// NotFound is a router fallback that answers with a JSON 404.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	JSONError(w, http.StatusNotFound, CodeNotFound, "resource not found", nil)
}

// MethodNotAllowed is a router fallback that answers with a JSON 405.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	JSONError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, r.Method+" is not supported for this resource", nil)
}

// UnsupportedMediaType answers with a JSON 415.
func UnsupportedMediaType(w http.ResponseWriter, r *http.Request) {
	JSONError(w, http.StatusUnsupportedMediaType, CodeUnsupportedMedia, "content type "+r.Header.Get("Content-Type")+" is not supported", nil)
}
