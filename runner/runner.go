// Package runner executes an ExecutionPlan layer by layer with bounded
// concurrency, per-rateKey rate limiting, retries, and condition-based
// skipping.
package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/graph"
	"forge.design/mediaforge/hashing"
	"forge.design/mediaforge/jobcontext"
	"forge.design/mediaforge/manifest"
	"forge.design/mediaforge/planner"
	"forge.design/mediaforge/progress"
	"forge.design/mediaforge/ratelimit"
	"forge.design/mediaforge/telemetry"
)

// ArtefactResult is one produced (or synthesised) artefact outcome.
type ArtefactResult struct {
	ArtefactID  string
	Status      eventlog.Status
	Output      hashing.ArtefactOutput
	Diagnostics map[string]any
}

// ProduceRequest is the runner's call into the provider registry, the
// engine's single extension point.
type ProduceRequest struct {
	JobID         string
	AttemptID     string // idempotency token, unique per attempt
	Producer      string
	Provider      string
	ProviderModel string
	Revision      string
	LayerIndex    int
	Attempt       int
	Inputs        []string
	Produces      []string
	Context       graph.JobContext
	Resolved      jobcontext.Prepared
}

// ProduceResult is the provider registry's response to one attempt.
type ProduceResult struct {
	Status      eventlog.Status
	Artefacts   []ArtefactResult
	Diagnostics map[string]any
}

// ProduceFunc dispatches one job attempt. Implementations classify
// failures with *engineerr.Error so the runner's retry policy can branch
// on Kind; an error with a kind other than ProviderTransient or
// StorageFailure is treated as permanent.
type ProduceFunc func(ctx context.Context, req ProduceRequest) (ProduceResult, error)

// JobResult is one job's final outcome within a run.
type JobResult struct {
	JobID       string
	Producer    string
	Status      eventlog.Status
	Diagnostics map[string]any
	Artefacts   []ArtefactResult
}

// Status is the overall outcome of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusPartial   Status = "partial"
)

// Result is the runner's output: per-job outcomes plus a manifest builder.
type Result struct {
	Status Status
	Jobs   []JobResult

	movieID        string
	store          eventlog.Store
	revision       string
	completedLayers int
}

// BuildManifest materialises a new manifest snapshot reflecting every
// succeeded output recorded by this run, preserving unchanged entries from
// the base manifest (they remain in the event log untouched).
func (r Result) BuildManifest(ctx context.Context) (manifest.Manifest, error) {
	return manifest.Materialize(ctx, r.store, r.movieID, r.revision)
}

// RunSnapshot is a compact, resumable checkpoint of a run: which layer to
// resume at, and which jobs had already finished. It is derived, not
// durably stored by the runner itself; a caller that wants crash recovery
// persists it (e.g. alongside the manifest) after each Run call.
type RunSnapshot struct {
	Revision        string   `json:"revision"`
	CompletedJobIDs []string `json:"completedJobIds"`
	PendingLayer    int      `json:"pendingLayer"`
}

// Snapshot derives a RunSnapshot from r: PendingLayer is the first layer
// this run did not fully complete (equal to len(plan.Layers) if the run
// finished every layer). Resuming means re-invoking Run against a Plan
// whose Layers have been sliced to [PendingLayer:], e.g. via ResumePlan.
func (r Result) Snapshot() RunSnapshot {
	ids := make([]string, 0, len(r.Jobs))
	for _, jr := range r.Jobs {
		if jr.Status == eventlog.StatusSucceeded {
			ids = append(ids, jr.JobID)
		}
	}
	return RunSnapshot{Revision: r.revision, CompletedJobIDs: ids, PendingLayer: r.completedLayers}
}

// ResumePlan returns a copy of p whose Layers start at snap.PendingLayer,
// for resuming a crashed or cancelled run from the last completed layer
// barrier rather than re-running the whole plan.
func ResumePlan(p planner.Plan, snap RunSnapshot) planner.Plan {
	resumed := p
	if snap.PendingLayer >= len(p.Layers) {
		resumed.Layers = nil
		return resumed
	}
	resumed.Layers = p.Layers[snap.PendingLayer:]
	return resumed
}

// Deps are the collaborators a Runner needs; Produce is the only required
// field besides EventLog.
type Deps struct {
	MovieID      string
	EventLog     eventlog.Store
	Produce      ProduceFunc
	Logger       telemetry.Logger
	Concurrency  int // default 4 if <= 0
	MaxAttempts  int // default 3 if <= 0
	System       jobcontext.SystemInputs
	RateLimiters *ratelimit.Set  // default: process-local, 240 req/min per rateKey, if nil
	Progress     progress.Store // default: progress.NoopStore{}, if nil
}

// Runner executes plans against a fixed set of Deps.
type Runner struct {
	deps Deps
}

// New constructs a Runner. deps.Produce and deps.EventLog must be non-nil.
func New(deps Deps) *Runner {
	if deps.Concurrency <= 0 {
		deps.Concurrency = 4
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 3
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NoopLogger{}
	}
	if deps.RateLimiters == nil {
		deps.RateLimiters = ratelimit.NewSet(nil, 240, 240)
	}
	if deps.Progress == nil {
		deps.Progress = progress.NoopStore{}
	}
	return &Runner{deps: deps}
}

func (r *Runner) emit(ctx context.Context, revision string, layerIndex int, typ progress.EventType, jobID string, attrs map[string]any) {
	_ = r.deps.Progress.Append(ctx, progress.Event{
		RunID: revision, Type: typ, JobID: jobID, LayerIndex: layerIndex, Attrs: attrs, Timestamp: time.Now(),
	})
}

// emitJobOutcome emits the JobSucceeded/JobFailed/JobSkipped progress event
// matching jr.Status for the outcomes runOne produces, a condition skip
// included. An upstream skip never reaches runOne and emits its own
// JobSkipped event at the point of decision.
func (r *Runner) emitJobOutcome(ctx context.Context, revision string, layerIndex int, jr JobResult) {
	switch jr.Status {
	case eventlog.StatusSucceeded:
		r.emit(ctx, revision, layerIndex, progress.JobSucceeded, jr.JobID, nil)
	case eventlog.StatusFailed:
		r.emit(ctx, revision, layerIndex, progress.JobFailed, jr.JobID, jr.Diagnostics)
	case eventlog.StatusSkipped:
		r.emit(ctx, revision, layerIndex, progress.JobSkipped, jr.JobID, jr.Diagnostics)
	}
}

// Run executes p layer by layer, returning once every layer has drained or
// ctx is cancelled. Before each layer dispatches, resolvedInputs is extended
// with every artefact the previous layers produced, so a downstream job's
// input bindings on an upstream artefact resolve to its actual produced
// value rather than only to whatever the caller seeded up front.
func (r *Runner) Run(ctx context.Context, p planner.Plan, resolvedInputs map[string]any) (Result, error) {
	producedBy := make(map[string]string)
	for _, layer := range p.Layers {
		for _, job := range layer {
			for _, out := range job.Produces {
				producedBy[out] = job.JobID
			}
		}
	}

	completedLayers := 0

	overlay := make(map[string]any, len(resolvedInputs))
	for k, v := range resolvedInputs {
		overlay[k] = v
	}

	var (
		mu         sync.Mutex
		jobResults []JobResult
		failed     = make(map[string]bool)
	)

	appendResult := func(jr JobResult) {
		mu.Lock()
		jobResults = append(jobResults, jr)
		if jr.Status == eventlog.StatusFailed {
			failed[jr.JobID] = true
		}
		mu.Unlock()
	}

	for layerIndex, layer := range p.Layers {
		if ctx.Err() != nil {
			break
		}
		workers := r.deps.Concurrency
		if len(layer) < workers {
			workers = len(layer)
		}
		if workers < 1 {
			workers = 1
		}

		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup

		var (
			layerMu      sync.Mutex
			layerResults []JobResult
		)

		for _, job := range layer {
			job := job
			ancestorFailed := false
			mu.Lock()
			for _, in := range job.Inputs {
				if src, ok := producedBy[in]; ok && failed[src] {
					ancestorFailed = true
					break
				}
			}
			mu.Unlock()

			if ancestorFailed {
				// Marked like a failure so this job's own descendants in
				// later layers are skipped too.
				mu.Lock()
				failed[job.JobID] = true
				mu.Unlock()
				r.recordSkip(ctx, p.Revision, job, "skipped:upstream_failed")
				r.emit(ctx, p.Revision, layerIndex, progress.JobSkipped, job.JobID, map[string]any{"reason": "upstream_failed"})
				jr := JobResult{JobID: job.JobID, Producer: job.Producer, Status: eventlog.StatusSkipped,
					Diagnostics: map[string]any{"reason": "upstream_failed"}}
				appendResult(jr)
				layerMu.Lock()
				layerResults = append(layerResults, jr)
				layerMu.Unlock()
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				r.emit(ctx, p.Revision, layerIndex, progress.JobStarted, job.JobID, nil)
				// overlay is only mutated after this layer's wg.Wait()
				// below, so concurrent reads here within the same layer
				// are race-free.
				jr := r.runOne(ctx, p.Revision, layerIndex, job, overlay)
				r.emitJobOutcome(ctx, p.Revision, layerIndex, jr)
				appendResult(jr)
				layerMu.Lock()
				layerResults = append(layerResults, jr)
				layerMu.Unlock()
			}()
		}

		wg.Wait()

		// Every goroutine for this layer has returned, so overlay has no
		// concurrent readers here; merge this layer's outputs before the
		// next layer's jobs resolve their inputs against it.
		for _, jr := range layerResults {
			if jr.Status != eventlog.StatusSucceeded {
				continue
			}
			for _, art := range jr.Artefacts {
				overlay[art.ArtefactID] = artefactValue(art.Output)
			}
		}

		r.emit(ctx, p.Revision, layerIndex, progress.LayerCompleted, "", map[string]any{"jobCount": len(layerResults)})
		completedLayers = layerIndex + 1
	}

	sort.Slice(jobResults, func(i, j int) bool { return jobResults[i].JobID < jobResults[j].JobID })

	succeeded, failedCount := 0, 0
	for _, jr := range jobResults {
		switch jr.Status {
		case eventlog.StatusSucceeded:
			succeeded++
		case eventlog.StatusFailed:
			failedCount++
		}
	}
	status := StatusSucceeded
	switch {
	case failedCount > 0 && succeeded == 0:
		status = StatusFailed
	case failedCount > 0:
		status = StatusPartial
	}

	return Result{
		Status:          status,
		Jobs:            jobResults,
		movieID:         r.deps.MovieID,
		store:           r.deps.EventLog,
		revision:        p.Revision,
		completedLayers: completedLayers,
	}, nil
}

func (r *Runner) recordSkip(ctx context.Context, revision string, job graph.JobDescriptor, reason string) {
	for _, out := range job.Produces {
		_ = r.deps.EventLog.AppendArtefact(ctx, r.deps.MovieID, eventlog.ArtefactEvent{
			ArtefactID: out, Revision: revision, Status: eventlog.StatusSkipped, ProducedBy: job.JobID,
			Diagnostics: map[string]any{"reason": reason},
		})
	}
}

func (r *Runner) runOne(ctx context.Context, revision string, layerIndex int, job graph.JobDescriptor, resolvedInputs map[string]any) JobResult {
	prepared, err := jobcontext.Prepare(job, resolvedInputs, r.deps.System)
	if err != nil {
		return r.fail(ctx, revision, job, err)
	}

	for logicalName, cond := range job.Context.InputConditions {
		ok, err := jobcontext.EvaluateCondition(cond, resolvedInputs)
		if err != nil {
			return r.fail(ctx, revision, job, err)
		}
		if !ok && cond.Required {
			r.recordSkip(ctx, revision, job, "skipped:condition_false")
			r.deps.Logger.Info(ctx, "job skipped: condition false", "jobId", job.JobID, "condition", logicalName)
			return JobResult{JobID: job.JobID, Producer: job.Producer, Status: eventlog.StatusSkipped,
				Diagnostics: map[string]any{"reason": "condition_false"}}
		}
		if !ok {
			// A non-required condition only withholds the input it gates.
			delete(prepared.Inputs, logicalName)
		}
	}

	if err := jobcontext.ValidateInput(job.JobID, job.Context.SchemaInput, prepared.Values()); err != nil {
		return r.fail(ctx, revision, job, err)
	}

	limiter := r.deps.RateLimiters.For(job.RateKey)

	var lastErr error
	for attempt := 1; attempt <= r.deps.MaxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return r.fail(ctx, revision, job, err)
			}
		}
		result, produceErr := r.deps.Produce(ctx, ProduceRequest{
			JobID: job.JobID, AttemptID: uuid.NewString(), Producer: job.Producer, Provider: job.Provider, ProviderModel: job.ProviderModel,
			Revision: revision, LayerIndex: layerIndex, Attempt: attempt,
			Inputs: job.Inputs, Produces: job.Produces, Context: job.Context, Resolved: prepared,
		})
		if limiter != nil {
			limiter.Observe(produceErr)
		}
		if produceErr == nil {
			if err := r.validateOutputs(job, result); err != nil {
				lastErr = err
				break
			}
			return r.succeed(ctx, revision, job, result)
		}
		lastErr = produceErr
		if !engineerr.Retriable(produceErr) {
			break
		}
		if attempt < r.deps.MaxAttempts {
			backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = r.deps.MaxAttempts
			}
		}
	}
	return r.fail(ctx, revision, job, lastErr)
}

func (r *Runner) validateOutputs(job graph.JobDescriptor, result ProduceResult) error {
	if len(job.Context.SchemaOutput) == 0 {
		return nil
	}
	for _, art := range result.Artefacts {
		if err := jobcontext.ValidateOutput(job.JobID, job.Context.SchemaOutput, artefactValue(art.Output)); err != nil {
			return err
		}
	}
	return nil
}

// artefactValue extracts the materialised value of an artefact output for
// downstream input resolution: the inline value if present, otherwise the
// blob reference itself so a handler can fetch its bytes from storage.
func artefactValue(out hashing.ArtefactOutput) any {
	if out.Inline != nil {
		return out.Inline
	}
	if out.Blob != nil {
		return out.Blob
	}
	return nil
}

func (r *Runner) succeed(ctx context.Context, revision string, job graph.JobDescriptor, result ProduceResult) JobResult {
	for _, art := range result.Artefacts {
		_ = r.deps.EventLog.AppendArtefact(ctx, r.deps.MovieID, eventlog.ArtefactEvent{
			ArtefactID: art.ArtefactID, Revision: revision, Status: art.Status, ProducedBy: job.JobID,
			Output: art.Output, Diagnostics: art.Diagnostics,
		})
	}
	status := eventlog.StatusSucceeded
	if result.Status != "" {
		status = result.Status
	}
	return JobResult{JobID: job.JobID, Producer: job.Producer, Status: status, Diagnostics: result.Diagnostics, Artefacts: result.Artefacts}
}

func (r *Runner) fail(ctx context.Context, revision string, job graph.JobDescriptor, err error) JobResult {
	diag := map[string]any{"error": err.Error()}
	for _, out := range job.Produces {
		_ = r.deps.EventLog.AppendArtefact(ctx, r.deps.MovieID, eventlog.ArtefactEvent{
			ArtefactID: out, Revision: revision, Status: eventlog.StatusFailed, ProducedBy: job.JobID,
			Diagnostics: diag,
		})
	}
	r.deps.Logger.Error(ctx, "job failed", "jobId", job.JobID, "error", err)
	return JobResult{JobID: job.JobID, Producer: job.Producer, Status: eventlog.StatusFailed, Diagnostics: diag}
}
