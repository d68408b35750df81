package github

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingToken is returned when a call is attempted without a configured token
var ErrMissingToken = errors.New("github: no API token configured")

// APIError represents a non-2xx response from the GitHub REST API
type APIError struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Message is the top-level "message" of the JSON error body, or the raw body.
	Message string

	// Body is the raw response body.
	Body []byte
}

func (err *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsNotFound reports whether err is a GitHub API 404 Not Found response
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == 404
}

// IsValidationFailed reports whether err is a GitHub API 422 response.
// Dispatching to a workflow without a workflow_dispatch trigger or with
// unknown inputs returns 422.
func IsValidationFailed(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == 422
}

func parseAPIError(statusCode int, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode, Body: body}

	var wireError struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Message != "" {
		apiError.Message = wireError.Message
	} else {
		apiError.Message = string(body)
	}

	return apiError
}
