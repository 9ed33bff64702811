package dispatch

import (
	"net/http"
	"strings"
)

// apiError is one of the client-visible error kinds from §7.
type apiError struct {
	Status  int
	Kind    string
	Message string
	Retry   string
}

func (e *apiError) Error() string { return e.Message }

func errAuthRequired() *apiError {
	return &apiError{Status: http.StatusUnauthorized, Kind: "auth_required", Message: "missing or invalid API key"}
}

func errForbidden(msg string) *apiError {
	return &apiError{Status: http.StatusForbidden, Kind: "forbidden", Message: msg}
}

func errRateLimited(retryAfter string) *apiError {
	return &apiError{Status: http.StatusTooManyRequests, Kind: "rate_limited", Message: "rate limited", Retry: retryAfter}
}

func errUpstreamUnavailable(msg string) *apiError {
	return &apiError{Status: http.StatusBadGateway, Kind: "upstream_unavailable", Message: msg}
}

func errBadRequest(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Kind: "bad_request", Message: msg}
}

func errInternal(msg string) *apiError {
	return &apiError{Status: http.StatusInternalServerError, Kind: "internal", Message: msg}
}

// errorBody renders the OpenAI-shaped error envelope every dialect shares
// for error responses in this gateway.
func errorBody(e *apiError) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"message": e.Message,
			"type":    e.Kind,
		},
	}
}

// extractAPIKey implements the four accepted auth carriers, in the order
// listed in §6: Bearer header, ?key=, x-goog-api-key, x-api-key.
func extractAPIKey(authHeader, queryKey, googHeader, anthropicHeader string) string {
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}
	if queryKey != "" {
		return queryKey
	}
	if googHeader != "" {
		return googHeader
	}
	return anthropicHeader
}
