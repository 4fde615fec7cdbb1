package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"llmgate/internal/transform/anthropic"
	"llmgate/internal/unified"
)

// statusFor maps translation errors onto HTTP status codes. Upstream
// protocol failures surface as a bad gateway; everything unexpected is an
// internal error.
func statusFor(err error) int {
	var (
		validation  *unified.ValidationError
		unsupported *unified.UnsupportedFeatureError
		upstream    *unified.UpstreamProtocolError
		conf        *unified.ConfigurationError
	)

	switch {
	case errors.As(err, &validation), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &conf):
		return http.StatusNotFound
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// anthropicErrorType is the Messages API error taxonomy keyed by status.
func anthropicErrorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case 529:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

func openaiErrorType(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound:
		return "invalid_request_error"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "authentication_error"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}

// writeProtocolError renders an error in the client protocol's own error
// shape so SDKs on either side can parse it.
func writeProtocolError(w http.ResponseWriter, clientProtocol string, status int, message string) {
	var body any

	if clientProtocol == anthropic.ProtocolName {
		body = map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    anthropicErrorType(status),
				"message": message,
			},
		}
	} else {
		body = map[string]any{
			"error": map[string]any{
				"type":    openaiErrorType(status),
				"message": message,
				"code":    status,
			},
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}
