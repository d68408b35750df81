package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, server *httptest.Server, token string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:    server.URL,
		Token:      token,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresHTTPS(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://api.github.com", Token: "x"})
	assert.Error(t, err)

	client, err := NewClient(Config{Token: "x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.True(t, client.HasToken())
}

func TestDispatchWorkflow(t *testing.T) {
	var (
		gotPath    string
		gotMethod  string
		gotHeaders http.Header
		gotBody    []byte
	)
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotHeaders = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server, "ghp_test")
	status, err := client.DispatchWorkflow(context.Background(), "fausbot", "ControlFace_Proyecto", "deploy-tenants.yml",
		DispatchWorkflowRequest{Ref: "main", Inputs: map[string]string{"tenants": `["a","c"]`}})
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/repos/fausbot/ControlFace_Proyecto/actions/workflows/deploy-tenants.yml/dispatches", gotPath)
	assert.Equal(t, "application/vnd.github.v3+json", gotHeaders.Get("Accept"))
	assert.Equal(t, "Bearer ghp_test", gotHeaders.Get("Authorization"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.JSONEq(t, `{"ref":"main","inputs":{"tenants":"[\"a\",\"c\"]"}}`, string(gotBody))
}

func TestDispatchWorkflowDoesNotEscapeHTML(t *testing.T) {
	var gotBody []byte
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server, "tok")
	_, err := client.DispatchWorkflow(context.Background(), "o", "r", "w.yml",
		DispatchWorkflowRequest{Ref: "main", Inputs: map[string]string{"tenants": `["a&b"]`}})
	require.NoError(t, err)
	assert.Contains(t, string(gotBody), `a&b`)
}

func TestDispatchWorkflowAPIError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "Unexpected inputs provided"})
	}))
	defer server.Close()

	client := newTestClient(t, server, "tok")
	status, err := client.DispatchWorkflow(context.Background(), "o", "r", "w.yml", DispatchWorkflowRequest{Ref: "main"})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	var apiError *APIError
	require.True(t, errors.As(err, &apiError))
	assert.Equal(t, http.StatusUnprocessableEntity, apiError.StatusCode)
	assert.Equal(t, "Unexpected inputs provided", apiError.Message)
	assert.JSONEq(t, `{"message":"Unexpected inputs provided"}`, string(apiError.Body))
	assert.True(t, IsValidationFailed(err))
	assert.False(t, IsNotFound(err))
}

func TestDispatchWorkflowNonJSONError(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "not here")
	}))
	defer server.Close()

	client := newTestClient(t, server, "tok")
	_, err := client.DispatchWorkflow(context.Background(), "o", "r", "w.yml", DispatchWorkflowRequest{Ref: "main"})
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "not here")
}

func TestDispatchWorkflowMissingToken(t *testing.T) {
	called := false
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := newTestClient(t, server, "")
	_, err := client.DispatchWorkflow(context.Background(), "o", "r", "w.yml", DispatchWorkflowRequest{Ref: "main"})
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.False(t, called)
}
