// Package apierror provides a centralized error response format for the
// relay. All components use WriteJSON to produce consistent, machine-readable
// error responses with stable error codes. These bodies only appear for
// requests that never reach a fallback chain; a chain that runs always
// answers with a result envelope instead.
package apierror

import (
	"encoding/json"
	"net/http"
)

// ErrorCode is a machine-readable error classification string.
type ErrorCode string

// Relay error codes. These form a public API contract — clients can program
// against these stable codes. Do not rename or remove existing codes.
const (
	ChainNotFound         ErrorCode = "RELAY_CHAIN_NOT_FOUND"
	MethodNotAllowed      ErrorCode = "RELAY_METHOD_NOT_ALLOWED"
	AuthMissingToken      ErrorCode = "RELAY_AUTH_MISSING_TOKEN"
	AuthInvalidToken      ErrorCode = "RELAY_AUTH_INVALID_TOKEN"
	AuthInsufficientScope ErrorCode = "RELAY_AUTH_INSUFFICIENT_SCOPE"
	BodyTooLarge          ErrorCode = "RELAY_BODY_TOO_LARGE"
	InvalidDeadline       ErrorCode = "RELAY_INVALID_DEADLINE"
	DeadlineExceeded      ErrorCode = "RELAY_DEADLINE_EXCEEDED"
	ChainExhausted        ErrorCode = "RELAY_CHAIN_EXHAUSTED"
	InternalError         ErrorCode = "RELAY_INTERNAL_ERROR"
)

// ErrorResponse is the standardized relay error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Pre-serialized JSON bodies for the most common error responses.
// Avoids json.Encoder allocation on every error in the hot path.
// These do NOT include request_id since it varies per request.
var (
	preChainNotFound    = mustMarshal(http.StatusNotFound, ChainNotFound, "no chain mounted for this path")
	preMethodNotAllowed = mustMarshal(http.StatusMethodNotAllowed, MethodNotAllowed, "method not allowed for this chain")
	preAuthMissingToken = mustMarshal(http.StatusUnauthorized, AuthMissingToken, "missing or malformed Authorization header")
	preBodyTooLarge     = mustMarshal(http.StatusRequestEntityTooLarge, BodyTooLarge, "request body exceeds configured limit")
	preChainExhausted   = mustMarshal(http.StatusBadGateway, ChainExhausted, "all strategies failed")
	preInternalError    = mustMarshal(http.StatusInternalServerError, InternalError, "an unexpected error occurred")
)

func mustMarshal(status int, code ErrorCode, message string) []byte {
	b, _ := json.Marshal(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
	})
	return append(b, '\n')
}

// WriteJSON writes a structured JSON error response. For common error
// code+message combinations, pre-serialized bodies are used (no allocation).
// When request_id is available (from X-Request-ID header), it is included in
// the response. The request parameter may be nil for contexts where the
// request is not available.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, code ErrorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	// Fast path: use pre-serialized body for common errors when there is
	// no request ID to include (avoids allocation).
	requestID := ""
	if r != nil {
		requestID = r.Header.Get("X-Request-ID")
	}

	if requestID == "" {
		if body := preSerialized(status, code, message); body != nil {
			w.Write(body) //nolint:errcheck
			return
		}
	}

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:     http.StatusText(status),
		ErrorCode: string(code),
		Message:   message,
		RequestID: requestID,
	})
}

// preSerialized returns a pre-built response body for common error
// combinations, or nil if no match.
func preSerialized(status int, code ErrorCode, message string) []byte {
	switch {
	case code == ChainNotFound && status == http.StatusNotFound && message == "no chain mounted for this path":
		return preChainNotFound
	case code == MethodNotAllowed && status == http.StatusMethodNotAllowed && message == "method not allowed for this chain":
		return preMethodNotAllowed
	case code == AuthMissingToken && status == http.StatusUnauthorized && message == "missing or malformed Authorization header":
		return preAuthMissingToken
	case code == BodyTooLarge && status == http.StatusRequestEntityTooLarge && message == "request body exceeds configured limit":
		return preBodyTooLarge
	case code == ChainExhausted && status == http.StatusBadGateway && message == "all strategies failed":
		return preChainExhausted
	case code == InternalError && status == http.StatusInternalServerError && message == "an unexpected error occurred":
		return preInternalError
	}
	return nil
}
