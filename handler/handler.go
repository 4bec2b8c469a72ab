// Package handler defines the contract a provider integration implements to
// be dispatched by the runner.
package handler

import (
	"context"

	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/graph"
	"forge.design/mediaforge/hashing"
	"forge.design/mediaforge/jobcontext"
)

// ProviderJobContext is the per-attempt view a Handler receives.
type ProviderJobContext struct {
	JobID      string
	AttemptID  string // idempotency token, unique per attempt
	Provider   string
	Model      string
	Revision   string
	LayerIndex int
	Attempt    int
	Inputs     []string
	Produces   []string

	ProviderConfig map[string]string
	Environment    string
	ResolvedInputs jobcontext.Prepared
	JobContext     graph.JobContext
	Schema         map[string]any
	ConditionHints map[string]graph.InputCondition
}

// ArtefactResult is one artefact a Handler produced, ready for the runner to
// append to the event log.
type ArtefactResult struct {
	ArtefactID  string
	Status      eventlog.Status
	Output      hashing.ArtefactOutput
	Diagnostics map[string]any
}

// ProviderResponse is a Handler's outcome for one job attempt.
type ProviderResponse struct {
	Status      eventlog.Status
	Artefacts   []ArtefactResult
	Diagnostics map[string]any
}

// Handler dispatches one job attempt to an external provider or an internal
// composition engine. Implementations classify failures using *engineerr.Error
// so the runner's retry policy can branch on Kind.
type Handler interface {
	Invoke(ctx context.Context, jobCtx ProviderJobContext) (ProviderResponse, error)
}

// WarmStarter is implemented by handlers that benefit from eager
// initialisation (e.g. an API key fetch) before the first job reaches them.
type WarmStarter interface {
	WarmStart(ctx context.Context) error
}
