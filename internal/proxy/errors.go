package proxy

import (
	"encoding/json"
	"net/http"
	"time"
)

// Stable error codes clients can branch on.
const (
	CodeServiceNotFound  = "SERVICE_NOT_FOUND"
	CodeServiceUnhealthy = "SERVICE_UNHEALTHY"
	CodeTimeout          = "TIMEOUT"
	CodeProxyError       = "PROXY_ERROR"
	CodeProxyFailure     = "PROXY_FAILURE"
)

type errorEnvelope struct {
	Success   bool      `json:"success"`
	Error     errorBody `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError synthesizes the gateway's JSON error envelope. Backend
// responses are never reshaped; this is only for gateway-originated
// failures.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Success: false,
		Error: errorBody{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now(),
	})
}
