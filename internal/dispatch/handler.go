package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/controlface/deploy-console/internal/github"
)

const maxRequestBody = 1 << 20

// ServeHTTP implements the deploy endpoint. Only POST with a JSON body
// {"tenants": [...]} reaches the remote service.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		d.metrics.RecordDeploy(string(MethodNotAllowed), 0)
		writeError(w, &Error{Kind: MethodNotAllowed})
		return
	}

	tenants, kind := decodeTenants(w, r)
	if kind != "" {
		d.metrics.RecordDeploy(string(kind), 0)
		writeError(w, &Error{Kind: kind})
		return
	}

	result, err := d.Trigger(r.Context(), tenants)
	if err != nil {
		var dispatchErr *Error
		if !errors.As(err, &dispatchErr) {
			dispatchErr = &Error{Kind: InternalError, Err: err}
		}
		writeError(w, dispatchErr)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decodeTenants accepts only an object whose "tenants" is a non-empty array
// of strings. The returned Kind is empty on success.
func decodeTenants(w http.ResponseWriter, r *http.Request) ([]string, Kind) {
	if r.Body == nil {
		return nil, InvalidPayload
	}

	var envelope map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&envelope); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, PayloadTooLarge
		}
		return nil, InvalidPayload
	}

	raw, ok := envelope["tenants"]
	if !ok {
		return nil, InvalidPayload
	}

	var tenants []string
	if err := json.Unmarshal(raw, &tenants); err != nil || len(tenants) == 0 {
		return nil, InvalidPayload
	}
	return tenants, ""
}

func writeError(w http.ResponseWriter, err *Error) {
	writeJSON(w, err.HTTPStatus(), map[string]string{"error": err.Message()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := github.EncodeJSON(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
