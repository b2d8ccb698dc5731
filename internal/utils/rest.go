package utils

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the payload nested under "error" in every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// ErrorResponse is the OpenAI-compatible error envelope returned to clients.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorTypeForStatus maps an HTTP status onto the error type string clients switch on.
func ErrorTypeForStatus(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusPaymentRequired:
		return "budget_exceeded_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return "upstream_error"
	case http.StatusNotFound:
		return "not_found_error"
	}
	if code >= 500 {
		return "api_error"
	}
	return "invalid_request_error"
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	_ = RespondWithJSON(w, code, ErrorResponse{Error: ErrorBody{
		Message: message,
		Type:    ErrorTypeForStatus(code),
		Code:    code,
	}})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(payload)
}
