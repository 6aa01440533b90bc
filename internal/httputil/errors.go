// Package httputil writes transport-level error bodies for the local bus
// endpoint. These cover failures of the HTTP carrier itself; operation
// outcomes travel inside the bus response envelope instead.
package httputil

import (
	"encoding/json"
	"net/http"
)

// APIError is the JSON body for transport-level failures.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{
		Error: APIErrorBody{
			Message:   message,
			Type:      errType,
			Code:      code,
			RequestID: requestID,
		},
	})
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_request", message)
}

func WriteRateLimitError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "rate_limit_exceeded", message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, "server_error", "internal_error", message)
}

// WriteNoReceiverError reports that no worker is attached to the bus. 503 is
// part of the wire contract: clients translate it into their retryable
// disconnect condition.
func WriteNoReceiverError(w http.ResponseWriter, requestID string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, "bus_error", "no_receiver", "receiving end does not exist")
}
