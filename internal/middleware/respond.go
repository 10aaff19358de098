package middleware

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the machine readable part of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is the JSON shape of every error the API returns.
type ErrorEnvelope struct {
	Error     ErrorBody `json:"error"`
	Balance   *int64    `json:"balance,omitempty"`
	Shortfall *int64    `json:"shortfall,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an error envelope without balance details.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorEnvelope{Error: ErrorBody{Code: code, Message: message}})
}
