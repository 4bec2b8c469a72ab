package runner_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/eventlog/inmem"
	"forge.design/mediaforge/graph"
	"forge.design/mediaforge/hashing"
	"forge.design/mediaforge/planner"
	"forge.design/mediaforge/progress"
	progressinmem "forge.design/mediaforge/progress/inmem"
	"forge.design/mediaforge/runner"
)

func samplePlan() planner.Plan {
	return planner.Plan{
		Revision: "rev-0001",
		Layers: [][]graph.JobDescriptor{
			{{JobID: "Producer:Script", Producer: "Script", Produces: []string{"Artifact:Script.Script"}}},
			{
				{JobID: "Producer:Audio[0]", Producer: "Audio", Inputs: []string{"Artifact:Script.Script"}, Produces: []string{"Artifact:Audio.Audio[0]"}},
				{JobID: "Producer:Audio[1]", Producer: "Audio", Inputs: []string{"Artifact:Script.Script"}, Produces: []string{"Artifact:Audio.Audio[1]"}},
			},
			{{JobID: "Producer:Timeline", Producer: "Timeline", Inputs: []string{"Artifact:Audio.Audio[0]", "Artifact:Audio.Audio[1]"}, Produces: []string{"Artifact:Timeline.Timeline"}}},
		},
	}
}

func TestRunAllSucceed(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	produce := func(ctx context.Context, req runner.ProduceRequest) (runner.ProduceResult, error) {
		var artefacts []runner.ArtefactResult
		for _, id := range req.Produces {
			artefacts = append(artefacts, runner.ArtefactResult{ArtefactID: id, Status: eventlog.StatusSucceeded, Output: hashing.ArtefactOutput{Inline: "ok"}})
		}
		return runner.ProduceResult{Status: eventlog.StatusSucceeded, Artefacts: artefacts}, nil
	}

	r := runner.New(runner.Deps{MovieID: "movie-1", EventLog: store, Produce: produce})
	result, err := r.Run(ctx, samplePlan(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, runner.StatusSucceeded, result.Status)
	require.Len(t, result.Jobs, 4)

	man, err := result.BuildManifest(ctx)
	require.NoError(t, err)
	require.Len(t, man.Artefacts, 4)
}

func TestRunSkipsDescendantsOfFailedJob(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	produce := func(ctx context.Context, req runner.ProduceRequest) (runner.ProduceResult, error) {
		if req.JobID == "Producer:Audio[0]" {
			return runner.ProduceResult{}, engineerr.New(engineerr.ProviderPermanent, "boom")
		}
		var artefacts []runner.ArtefactResult
		for _, id := range req.Produces {
			artefacts = append(artefacts, runner.ArtefactResult{ArtefactID: id, Status: eventlog.StatusSucceeded, Output: hashing.ArtefactOutput{Inline: "ok"}})
		}
		return runner.ProduceResult{Status: eventlog.StatusSucceeded, Artefacts: artefacts}, nil
	}

	r := runner.New(runner.Deps{MovieID: "movie-1", EventLog: store, Produce: produce})
	result, err := r.Run(ctx, samplePlan(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, runner.StatusPartial, result.Status)

	statuses := make(map[string]eventlog.Status)
	for _, jr := range result.Jobs {
		statuses[jr.JobID] = jr.Status
	}
	require.Equal(t, eventlog.StatusFailed, statuses["Producer:Audio[0]"])
	require.Equal(t, eventlog.StatusSucceeded, statuses["Producer:Audio[1]"])
	require.Equal(t, eventlog.StatusSkipped, statuses["Producer:Timeline"])
}

func TestRunRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	var attempts int32
	produce := func(ctx context.Context, req runner.ProduceRequest) (runner.ProduceResult, error) {
		if req.JobID != "Producer:Script" {
			var artefacts []runner.ArtefactResult
			for _, id := range req.Produces {
				artefacts = append(artefacts, runner.ArtefactResult{ArtefactID: id, Status: eventlog.StatusSucceeded})
			}
			return runner.ProduceResult{Status: eventlog.StatusSucceeded, Artefacts: artefacts}, nil
		}
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return runner.ProduceResult{}, engineerr.New(engineerr.ProviderTransient, "timeout")
		}
		return runner.ProduceResult{Status: eventlog.StatusSucceeded, Artefacts: []runner.ArtefactResult{
			{ArtefactID: "Artifact:Script.Script", Status: eventlog.StatusSucceeded},
		}}, nil
	}

	r := runner.New(runner.Deps{MovieID: "movie-1", EventLog: store, Produce: produce, MaxAttempts: 3})
	result, err := r.Run(ctx, samplePlan(), map[string]any{})
	require.NoError(t, err)
	require.Equal(t, runner.StatusSucceeded, result.Status)
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestRunThreadsProducedArtefactsIntoNextLayer(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	produce := func(ctx context.Context, req runner.ProduceRequest) (runner.ProduceResult, error) {
		if req.JobID == "Producer:Script" {
			return runner.ProduceResult{Status: eventlog.StatusSucceeded, Artefacts: []runner.ArtefactResult{
				{ArtefactID: "Artifact:Script.Script", Status: eventlog.StatusSucceeded, Output: hashing.ArtefactOutput{Inline: "a generated script"}},
			}}, nil
		}
		// Audio binds Script to Artifact:Script.Script; the runner must have
		// resolved it to the value Script produced this same run, without any
		// caller-seeded value.
		if req.Resolved.Inputs["Script"].Value != "a generated script" {
			return runner.ProduceResult{}, engineerr.New(engineerr.ProviderPermanent, "Script binding missing or stale: %v", req.Resolved.Inputs["Script"])
		}
		var artefacts []runner.ArtefactResult
		for _, id := range req.Produces {
			artefacts = append(artefacts, runner.ArtefactResult{ArtefactID: id, Status: eventlog.StatusSucceeded, Output: hashing.ArtefactOutput{Inline: "ok"}})
		}
		return runner.ProduceResult{Status: eventlog.StatusSucceeded, Artefacts: artefacts}, nil
	}

	plan := planner.Plan{
		Revision: "rev-0001",
		Layers: [][]graph.JobDescriptor{
			{{JobID: "Producer:Script", Producer: "Script", Produces: []string{"Artifact:Script.Script"}}},
			{{
				JobID: "Producer:Audio[0]", Producer: "Audio", Inputs: []string{"Artifact:Script.Script"}, Produces: []string{"Artifact:Audio.Audio[0]"},
				Context: graph.JobContext{
					InputBindings: map[string]graph.Binding{
						"Script": {CanonicalID: "Artifact:Script.Script"},
					},
				},
			}},
		},
	}

	r := runner.New(runner.Deps{MovieID: "movie-1", EventLog: store, Produce: produce})
	// Deliberately no pre-seeded Artifact:Script.Script: it must arrive via
	// the runner's own layer-to-layer overlay.
	result, err := r.Run(ctx, plan, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, runner.StatusSucceeded, result.Status)

	for _, jr := range result.Jobs {
		require.Equal(t, eventlog.StatusSucceeded, jr.Status, jr.JobID)
	}
}

func TestRunHonoursRequiredCondition(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	var called bool
	produce := func(ctx context.Context, req runner.ProduceRequest) (runner.ProduceResult, error) {
		called = true
		return runner.ProduceResult{Status: eventlog.StatusSucceeded}, nil
	}

	plan := planner.Plan{
		Revision: "rev-0001",
		Layers: [][]graph.JobDescriptor{{
			{
				JobID: "Producer:TalkingHeadOverlay", Producer: "Overlay", Produces: []string{"Artifact:Overlay.Overlay"},
				Context: graph.JobContext{
					InputConditions: map[string]graph.InputCondition{
						"Overlay": {InputName: "Input:NarrationType", Operator: "==", Value: "TalkingHead", Required: true},
					},
				},
			},
		}},
	}

	r := runner.New(runner.Deps{MovieID: "movie-1", EventLog: store, Produce: produce})
	result, err := r.Run(ctx, plan, map[string]any{"Input:NarrationType": "VoiceOver"})
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, eventlog.StatusSkipped, result.Jobs[0].Status)
}

func TestRunEmitsProgressEventsPerJobAndLayer(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	prog := progressinmem.New()

	produce := func(ctx context.Context, req runner.ProduceRequest) (runner.ProduceResult, error) {
		var artefacts []runner.ArtefactResult
		for _, id := range req.Produces {
			artefacts = append(artefacts, runner.ArtefactResult{ArtefactID: id, Status: eventlog.StatusSucceeded, Output: hashing.ArtefactOutput{Inline: "ok"}})
		}
		return runner.ProduceResult{Status: eventlog.StatusSucceeded, Artefacts: artefacts}, nil
	}

	r := runner.New(runner.Deps{MovieID: "movie-1", EventLog: store, Produce: produce, Progress: prog})
	plan := samplePlan()
	result, err := r.Run(ctx, plan, map[string]any{})
	require.NoError(t, err)
	require.Equal(t, runner.StatusSucceeded, result.Status)

	events, err := prog.List(ctx, plan.Revision)
	require.NoError(t, err)

	var started, succeeded, layersCompleted int
	for _, e := range events {
		switch e.Type {
		case progress.JobStarted:
			started++
		case progress.JobSucceeded:
			succeeded++
		case progress.LayerCompleted:
			layersCompleted++
		}
	}
	require.Equal(t, 4, started)
	require.Equal(t, 4, succeeded)
	require.Equal(t, len(plan.Layers), layersCompleted)
}

func TestResumePlanContinuesFromPendingLayer(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	produce := func(ctx context.Context, req runner.ProduceRequest) (runner.ProduceResult, error) {
		var artefacts []runner.ArtefactResult
		for _, id := range req.Produces {
			artefacts = append(artefacts, runner.ArtefactResult{ArtefactID: id, Status: eventlog.StatusSucceeded, Output: hashing.ArtefactOutput{Inline: "ok"}})
		}
		return runner.ProduceResult{Status: eventlog.StatusSucceeded, Artefacts: artefacts}, nil
	}

	r := runner.New(runner.Deps{MovieID: "movie-1", EventLog: store, Produce: produce})
	plan := samplePlan()
	result, err := r.Run(ctx, plan, map[string]any{})
	require.NoError(t, err)

	snap := result.Snapshot()
	require.Equal(t, len(plan.Layers), snap.PendingLayer, "a fully completed run's snapshot points past the last layer")
	require.Len(t, snap.CompletedJobIDs, 4)

	resumed := runner.ResumePlan(plan, snap)
	require.Empty(t, resumed.Layers, "resuming a fully completed run has nothing left to do")

	// A snapshot taken after only the first layer resumes from layer 1.
	partial := runner.RunSnapshot{Revision: plan.Revision, PendingLayer: 1}
	resumedFromLayer1 := runner.ResumePlan(plan, partial)
	require.Len(t, resumedFromLayer1.Layers, len(plan.Layers)-1)
	require.Equal(t, plan.Layers[1:], resumedFromLayer1.Layers)
}
