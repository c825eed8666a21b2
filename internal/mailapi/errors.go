package mailapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// AuthError indicates the bearer token was rejected. It is terminal for
// that token: callers must obtain a new one.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%d): %s", e.Status, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// APIError is any other non-2xx response from the mailbox API.
type APIError struct {
	Status  int
	Method  string
	Path    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mailbox API error (%d) on %s %s: %s", e.Status, e.Method, e.Path, e.Message)
}

// StatusCode extracts the HTTP status from an APIError or AuthError in
// err's chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Status
	}
	return 0
}

// retryable reports whether a failed request with this status is worth
// repeating. Client errors and rate limiting are not.
func retryable(status int) bool {
	switch status {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusUnprocessableEntity,
		http.StatusTooManyRequests:
		return false
	}
	return true
}

// errorBody covers the Hydra and problem+json error shapes the API uses.
type errorBody struct {
	Detail      string `json:"detail"`
	Description string `json:"hydra:description"`
	Message     string `json:"message"`
	Violations  []struct {
		PropertyPath string `json:"propertyPath"`
		Message      string `json:"message"`
	} `json:"violations"`
}

// errorMessage turns a status and response body into a readable message.
func errorMessage(status int, body []byte) string {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)

	switch status {
	case http.StatusBadRequest:
		return "missing or invalid request parameters"
	case http.StatusUnauthorized:
		return "authentication failed, log in again"
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusMethodNotAllowed:
		return "method not allowed"
	case http.StatusTeapot:
		return "service temporarily unavailable"
	case http.StatusUnprocessableEntity:
		if len(eb.Violations) > 0 {
			v := eb.Violations[0]
			if v.PropertyPath != "" {
				return v.PropertyPath + ": " + v.Message
			}
			return v.Message
		}
		if eb.Detail != "" {
			return eb.Detail
		}
		return "invalid request data"
	case http.StatusTooManyRequests:
		return "too many requests, slow down"
	}

	switch {
	case eb.Detail != "":
		return eb.Detail
	case eb.Description != "":
		return eb.Description
	case eb.Message != "":
		return eb.Message
	}
	return fmt.Sprintf("request failed (%d)", status)
}
