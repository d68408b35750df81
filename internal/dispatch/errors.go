package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/controlface/deploy-console/internal/github"
)

// Kind classifies a dispatch failure
type Kind string

const (
	MethodNotAllowed Kind = "method_not_allowed"
	InvalidPayload   Kind = "invalid_payload"
	PayloadTooLarge  Kind = "payload_too_large"
	UpstreamError    Kind = "upstream_error"
	InternalError    Kind = "internal_error"
)

const (
	msgMethodNotAllowed = "method not allowed, use POST"
	msgInvalidPayload   = `a non-empty "tenants" array is required`
	msgPayloadTooLarge  = "request body exceeds 1 MiB"
	msgInternal         = "internal server error"
)

// Error is returned by Trigger and rendered by the handler.
// Status and Body are set only for UpstreamError.
type Error struct {
	Kind   Kind
	Status int
	Body   []byte
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == UpstreamError {
		return e.Message()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status code returned to the caller
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case InvalidPayload:
		return http.StatusBadRequest
	case PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Message is the client-visible error text
func (e *Error) Message() string {
	switch e.Kind {
	case MethodNotAllowed:
		return msgMethodNotAllowed
	case InvalidPayload:
		return msgInvalidPayload
	case PayloadTooLarge:
		return msgPayloadTooLarge
	case UpstreamError:
		return fmt.Sprintf("GitHub API Error: %d - %s", e.Status, encodeRemoteBody(e.Body))
	default:
		return msgInternal
	}
}

// encodeRemoteBody renders the remote body as JSON text: compacted when the
// body is JSON, quoted as a JSON string otherwise.
func encodeRemoteBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.String()
		}
	}

	encoded, err := github.EncodeJSON(string(body))
	if err != nil {
		return `""`
	}
	return string(encoded)
}
