package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError represents a non-2xx response from the GitHub REST API.
type APIError struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Message is the top-level error description from GitHub.
	Message string

	// DocumentationURL points to the relevant API documentation.
	DocumentationURL string

	// Errors contains field-level validation failures (422 only).
	Errors []ValidationError
}

// ValidationError describes a validation failure on a resource field.
type ValidationError struct {
	Resource string `json:"resource"`
	Code     string `json:"code"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

func (err *APIError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "github: HTTP %d: %s", err.StatusCode, err.Message)
	for _, validationError := range err.Errors {
		detail := validationError.Message
		if detail == "" {
			detail = validationError.Code
		}
		fmt.Fprintf(&builder, "; %s.%s: %s", validationError.Resource, validationError.Field, detail)
	}
	return builder.String()
}

// IsNotFound reports whether err is a 404 Not Found response.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == 404
}

// IsRateLimited reports whether err is a rate limit response.
// GitHub returns 403 for the primary limit and 429 for secondary limits.
func IsRateLimited(err error) bool {
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return false
	}
	return apiError.StatusCode == 429 || (apiError.StatusCode == 403 && isRateLimitMessage(apiError.Message))
}

// IsUnauthorized reports whether the credential was rejected.
func IsUnauthorized(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == 401
}

// isAlreadyInState reports whether a workflow toggle failed only because
// the workflow already has the requested state.
func isAlreadyInState(err error) bool {
	var apiError *APIError
	if !errors.As(err, &apiError) {
		return false
	}
	lower := strings.ToLower(apiError.Message)
	return strings.Contains(lower, "already disabled") ||
		strings.Contains(lower, "not enabled") ||
		strings.Contains(lower, "already enabled")
}

func isRateLimitMessage(message string) bool {
	lower := strings.ToLower(message)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "abuse detection")
}

func parseAPIError(statusCode int, body []byte) *APIError {
	var payload struct {
		Message          string            `json:"message"`
		DocumentationURL string            `json:"documentation_url"`
		Errors           []ValidationError `json:"errors"`
	}
	apiError := &APIError{StatusCode: statusCode}
	if err := json.Unmarshal(body, &payload); err != nil {
		apiError.Message = strings.TrimSpace(string(body))
		return apiError
	}
	apiError.Message = payload.Message
	apiError.DocumentationURL = payload.DocumentationURL
	apiError.Errors = payload.Errors
	return apiError
}
