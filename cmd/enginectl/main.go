// Command enginectl wires the graph builder, topology service, planner, and
// runner into a single local run against an in-memory event log and
// manifest store: a composition-root demo analogous to a quickstart
// example, not a production CLI (blueprint parsing and CLI flag surface
// are out of scope for this module).
package main

import (
	"context"
	"fmt"

	"forge.design/mediaforge/blueprint"
	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/eventlog/inmem"
	"forge.design/mediaforge/graph"
	"forge.design/mediaforge/handler"
	"forge.design/mediaforge/hashing"
	"forge.design/mediaforge/manifest"
	manifestinmem "forge.design/mediaforge/manifest/inmem"
	"forge.design/mediaforge/planner"
	progressinmem "forge.design/mediaforge/progress/inmem"
	"forge.design/mediaforge/registry"
	"forge.design/mediaforge/runner"
)

// echoHandler is a stand-in Handler used by this demo in place of a real
// provider: it inlines the job's Prompt input as its sole artefact so the
// pipeline can be exercised without network calls.
type echoHandler struct{}

func (echoHandler) Invoke(ctx context.Context, jobCtx handler.ProviderJobContext) (handler.ProviderResponse, error) {
	prompt, _ := jobCtx.ResolvedInputs.Inputs["Prompt"]
	var artefacts []handler.ArtefactResult
	for _, id := range jobCtx.Produces {
		artefacts = append(artefacts, handler.ArtefactResult{
			ArtefactID: id, Status: eventlog.StatusSucceeded,
			Output: hashing.ArtefactOutput{Inline: fmt.Sprintf("generated from %v", prompt.Value)},
		})
	}
	return handler.ProviderResponse{Status: eventlog.StatusSucceeded, Artefacts: artefacts}, nil
}

func main() {
	ctx := context.Background()
	const movieID = "demo-movie"

	bp := &blueprint.Blueprint{
		Meta: blueprint.Meta{Name: "demo"},
		RootInputs: []blueprint.RootInput{
			{Name: "InquiryPrompt", Required: true},
		},
		Producers: []blueprint.Producer{
			{
				Alias:    "ScriptProducer",
				Provider: "demo",
				Inputs: []blueprint.InputBinding{
					{LogicalName: "Prompt", Source: blueprint.SourceRef{Kind: blueprint.RefRootInput, Name: "InquiryPrompt"}},
				},
				Produces: []string{"Script"},
			},
			{
				Alias:      "AudioProducer",
				Provider:   "demo",
				Dimensions: []blueprint.Dimension{{Name: "segment", CountFrom: blueprint.SourceRef{Kind: blueprint.RefRootInput, Name: "InquiryPrompt"}, CountField: "SegmentCount"}},
				Inputs: []blueprint.InputBinding{
					{LogicalName: "Prompt", Source: blueprint.SourceRef{Kind: blueprint.RefArtifact, ProducerAlias: "ScriptProducer", Output: "Script"}},
				},
				Produces: []string{"Audio"},
			},
		},
	}

	rootInputs := map[string]any{"InquiryPrompt": "Tell me a story", "SegmentCount": 2}

	g, err := graph.Build(bp, rootInputs)
	if err != nil {
		panic(err)
	}

	store := inmem.New()
	manifests := manifestinmem.New()

	pendingEdits := map[string]any{"Input:InquiryPrompt": "Tell me a story"}
	req := planner.Request{
		MovieID:        movieID,
		Graph:          g,
		TargetRevision: string(hashing.FirstRevision),
		PendingEdits:   pendingEdits,
	}
	plan, err := planner.Plan(ctx, store, manifest.Manifest{}, "", req)
	if err != nil {
		panic(err)
	}
	fmt.Printf("plan: %d layers, blueprintLayerCount=%d\n", len(plan.Layers), plan.BlueprintLayerCount)
	fmt.Printf("diff summary: %d jobs added (inputs=%d artefacts=%d missing=%d descendant=%d)\n",
		plan.DiffSummary.JobsAdded, plan.DiffSummary.JobsDirtyInputs, plan.DiffSummary.JobsDirtyArtefacts,
		plan.DiffSummary.JobsDirtyMissing, plan.DiffSummary.JobsDescendant)

	reg := registry.New()
	reg.Register("demo", echoHandler{})

	// The runner threads ScriptProducer's output into AudioProducer's
	// resolvedInputs itself once layer 0 drains, so only root inputs need
	// seeding here.
	resolved := map[string]any{
		"Input:InquiryPrompt": "Tell me a story",
	}
	progressStore := progressinmem.New()
	r := runner.New(runner.Deps{MovieID: movieID, EventLog: store, Produce: reg.AsProduceFunc(), Progress: progressStore})
	result, err := r.Run(ctx, plan, resolved)
	if err != nil {
		panic(err)
	}
	fmt.Printf("run status: %s\n", result.Status)
	for _, jr := range result.Jobs {
		fmt.Printf("  %s: %s\n", jr.JobID, jr.Status)
	}

	events, err := progressStore.List(ctx, plan.Revision)
	if err != nil {
		panic(err)
	}
	for _, e := range events {
		fmt.Printf("  progress: layer=%d %s %s\n", e.LayerIndex, e.Type, e.JobID)
	}

	newManifest, err := result.BuildManifest(ctx)
	if err != nil {
		panic(err)
	}
	hash, err := manifests.Save(ctx, movieID, newManifest)
	if err != nil {
		panic(err)
	}
	fmt.Printf("manifest saved: %s (%d artefacts)\n", hash, len(newManifest.Artefacts))

	if err := manifests.Prune(ctx, movieID, 5); err != nil {
		panic(err)
	}
}
