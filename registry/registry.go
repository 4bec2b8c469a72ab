// Package registry resolves a job's provider name to a concrete Handler,
// with warm-start caching per provider.
package registry

import (
	"context"
	"fmt"
	"sync"

	"forge.design/mediaforge/handler"
	"forge.design/mediaforge/runner"
)

// Registry maps provider names to Handler implementations. A provider
// serves every model it was configured with; model-specific routing, if
// any, is the Handler's own concern (ProviderJobContext.Model carries it).
type Registry struct {
	mu       sync.Mutex
	handlers map[string]handler.Handler
	warmed   map[string]bool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]handler.Handler), warmed: make(map[string]bool)}
}

// Register associates provider with h. Registering the same provider twice
// replaces the previous handler.
func (r *Registry) Register(provider string, h handler.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[provider] = h
}

// Resolve returns the Handler registered for provider, warm-starting it on
// first use if it implements handler.WarmStarter.
func (r *Registry) Resolve(ctx context.Context, provider string) (handler.Handler, error) {
	r.mu.Lock()
	h, ok := r.handlers[provider]
	warmed := r.warmed[provider]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("registry: no handler registered for provider %q", provider)
	}

	if !warmed {
		if ws, ok := h.(handler.WarmStarter); ok {
			if err := ws.WarmStart(ctx); err != nil {
				return nil, fmt.Errorf("registry: warm start for provider %q: %w", provider, err)
			}
		}
		r.mu.Lock()
		r.warmed[provider] = true
		r.mu.Unlock()
	}

	return h, nil
}

// Produce adapts the registry into a runner.ProduceFunc-compatible call by
// resolving req.Provider and invoking its Handler. Callers wire this as the
// runner's Deps.Produce via a thin closure that builds the
// handler.ProviderJobContext from a runner.ProduceRequest.
func (r *Registry) Produce(ctx context.Context, jobCtx handler.ProviderJobContext) (handler.ProviderResponse, error) {
	h, err := r.Resolve(ctx, jobCtx.Provider)
	if err != nil {
		return handler.ProviderResponse{}, err
	}
	return h.Invoke(ctx, jobCtx)
}

// AsProduceFunc adapts the registry into a runner.ProduceFunc.
func (r *Registry) AsProduceFunc() runner.ProduceFunc {
	return func(ctx context.Context, req runner.ProduceRequest) (runner.ProduceResult, error) {
		resp, err := r.Produce(ctx, handler.ProviderJobContext{
			JobID: req.JobID, AttemptID: req.AttemptID, Provider: req.Provider, Model: req.ProviderModel,
			Revision: req.Revision, LayerIndex: req.LayerIndex, Attempt: req.Attempt,
			Inputs: req.Inputs, Produces: req.Produces,
			ResolvedInputs: req.Resolved, JobContext: req.Context,
			Schema:         req.Context.SchemaInput,
			ConditionHints: req.Context.InputConditions,
		})
		if err != nil {
			return runner.ProduceResult{}, err
		}
		artefacts := make([]runner.ArtefactResult, len(resp.Artefacts))
		for i, a := range resp.Artefacts {
			artefacts[i] = runner.ArtefactResult{ArtefactID: a.ArtefactID, Status: a.Status, Output: a.Output, Diagnostics: a.Diagnostics}
		}
		return runner.ProduceResult{Status: resp.Status, Artefacts: artefacts, Diagnostics: resp.Diagnostics}, nil
	}
}
