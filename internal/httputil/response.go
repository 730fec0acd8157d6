// Package httputil renders the hypermedia envelopes and error bodies used
// by the HTTP front-end.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Link is one hypermedia link.
type Link struct {
	Href string `json:"href"`
}

// Collection is the _embedded/_links envelope around a resource list.
type Collection struct {
	Embedded map[string]any  `json:"_embedded"`
	Links    map[string]Link `json:"_links"`
}

// NewCollection wraps contents under the given resource name with an empty
// link set.
func NewCollection(resource string, contents any) Collection {
	return Collection{
		Embedded: map[string]any{resource: contents},
		Links:    map[string]Link{},
	}
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// Error writes an error envelope with the given status code, error code,
// and message.
func Error(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{Error: errorBody{Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
