package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/controlface/deploy-console/internal/github"
	"github.com/controlface/deploy-console/internal/metrics"
)

const successMessage = "deploy workflow dispatched successfully"

// WorkflowClient triggers a workflow_dispatch event
type WorkflowClient interface {
	DispatchWorkflow(ctx context.Context, owner, repo, workflow string, request github.DispatchWorkflowRequest) (int, error)
}

// Target identifies the workflow that deploys tenants
type Target struct {
	Owner    string
	Repo     string
	Workflow string
	Ref      string
}

// Result is the normalized success response
type Result struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Dispatcher relays deploy requests to the CI workflow. It holds no
// per-request state and is safe for concurrent use.
type Dispatcher struct {
	client  WorkflowClient
	target  Target
	metrics *metrics.Metrics
}

// New creates a dispatcher. m may be nil.
func New(client WorkflowClient, target Target, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{client: client, target: target, metrics: m}
}

// Trigger sends tenants as one workflow dispatch. The list is forwarded in
// order, duplicates included. Errors are always *Error.
func (d *Dispatcher) Trigger(ctx context.Context, tenants []string) (*Result, error) {
	if len(tenants) == 0 {
		d.metrics.RecordDeploy(string(InvalidPayload), 0)
		return nil, &Error{Kind: InvalidPayload}
	}

	log.Info().Int("count", len(tenants)).Strs("tenants", tenants).Msg("Dispatching tenant deploy")

	payload, err := github.EncodeJSON(tenants)
	if err != nil {
		d.metrics.RecordDeploy(string(InternalError), 0)
		return nil, &Error{Kind: InternalError, Err: err}
	}

	start := time.Now()
	status, err := d.client.DispatchWorkflow(ctx, d.target.Owner, d.target.Repo, d.target.Workflow, github.DispatchWorkflowRequest{
		Ref:    d.target.Ref,
		Inputs: map[string]string{"tenants": string(payload)},
	})
	elapsed := time.Since(start)

	if err != nil {
		var apiErr *github.APIError
		if errors.As(err, &apiErr) {
			event := log.Error().Int("status", apiErr.StatusCode).Str("message", apiErr.Message)
			switch {
			case github.IsNotFound(err):
				event = event.Str("hint", "workflow not found or token lacks access to "+d.target.Owner+"/"+d.target.Repo)
			case github.IsValidationFailed(err):
				event = event.Str("hint", "ref or inputs rejected by the workflow")
			}
			event.Msg("Workflow dispatch rejected")
			d.metrics.RecordDeploy(string(UpstreamError), elapsed)
			return nil, &Error{Kind: UpstreamError, Status: apiErr.StatusCode, Body: apiErr.Body, Err: err}
		}

		log.Error().Err(err).Msg("Workflow dispatch failed")
		d.metrics.RecordDeploy(string(InternalError), elapsed)
		return nil, &Error{Kind: InternalError, Err: err}
	}

	log.Info().Int("status", status).Dur("elapsed", elapsed).Msg("Workflow dispatch accepted")
	d.metrics.RecordDeploy("ok", elapsed)

	return &Result{Message: successMessage, Status: status}, nil
}
