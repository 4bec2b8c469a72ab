// Package planner computes, given the current manifest and a candidate
// revision, the minimal set of jobs that must (re)run.
package planner

import (
	"context"
	"sort"

	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/graph"
	"forge.design/mediaforge/hashing"
	"forge.design/mediaforge/manifest"
	"forge.design/mediaforge/topology"
)

// Request bundles everything the planner needs to produce a plan.
type Request struct {
	MovieID              string
	Graph                *graph.ProducerGraph
	TargetRevision       string
	PendingEdits         map[string]any // input id -> new raw value
	ReRunFrom            *int
	UpToLayer            *int
	ArtifactRegenerations []string // source artifact ids
}

// Plan is the engine's ExecutionPlan.
type Plan struct {
	Revision            string                   `json:"revision"`
	ManifestBaseHash     string                   `json:"manifestBaseHash"`
	Layers               [][]graph.JobDescriptor  `json:"layers"`
	CreatedAt            string                   `json:"createdAt,omitempty"`
	BlueprintLayerCount  int                      `json:"blueprintLayerCount"`
	DiffSummary          DiffSummary              `json:"diffSummary"`
}

// DirtyReason attributes a planned job to the specific rule that made it
// dirty, for --dry-run reporting. A job reachable through more than one
// rule keeps the first one it was seeded by, in the precedence order
// pending-edit > artefact-drift > missing-output > descendant-propagation.
type DirtyReason string

const (
	ReasonDirtyInput      DirtyReason = "dirty_input"      // a pending edit changed a root/config input this job consumes
	ReasonDirtyArtefact   DirtyReason = "dirty_artefact"    // an out-of-band ArtefactEvent diverged from the manifest's recorded hash
	ReasonMissing         DirtyReason = "missing"           // the manifest has no entry for one of this job's outputs yet
	ReasonDescendant      DirtyReason = "descendant"        // a job feeding this one was dirty, so its output is stale too
	ReasonRegeneration    DirtyReason = "artifact_regen"    // named explicitly in an ArtifactRegenerations request
	ReasonRerunFrom       DirtyReason = "rerun_from"        // swept in by a ReRunFrom layer cutoff
)

// DiffSummary attributes every job in a Plan's Layers to the rule that made
// it dirty, for CLI/TUI dry-run reporting (spec §6 --dry-run).
type DiffSummary struct {
	JobsAdded        int                    `json:"jobsAdded"`
	JobsDirtyInputs  int                    `json:"jobsDirtyInputs"`
	JobsDirtyArtefacts int                  `json:"jobsDirtyArtefacts"`
	JobsDirtyMissing int                    `json:"jobsDirtyMissing"`
	JobsDescendant   int                    `json:"jobsDescendant"`
	Reasons          map[string]DirtyReason `json:"reasons"` // job id -> reason
}

// Plan computes an ExecutionPlan for req against store and man (man may be
// the zero Manifest with an empty baseHash for a first run).
func Plan(ctx context.Context, store eventlog.Store, man manifest.Manifest, manifestBaseHash string, req Request) (Plan, error) {
	layers, err := topology.Compute(req.Graph)
	if err != nil {
		return Plan{}, err
	}

	dirtyInputs, err := dirtyInputSet(man, req.PendingEdits)
	if err != nil {
		return Plan{}, err
	}

	dirtyArtefacts, err := dirtyArtefactSet(ctx, store, req.MovieID, man)
	if err != nil {
		return Plan{}, err
	}

	dirtyJobs, reasons := propagateDirty(req.Graph, man, dirtyInputs, dirtyArtefacts)

	switch {
	case len(req.ArtifactRegenerations) > 0:
		surgical := computeMultipleArtifactRegenerationJobs(req.ArtifactRegenerations, req.Graph)
		// Surgical mode replaces dirtiness from reRunFrom, but missing
		// artefacts must still force a run.
		missingOnly := missingArtefactJobs(req.Graph, man)
		merged := make(map[string]struct{}, len(surgical)+len(missingOnly))
		mergedReasons := make(map[string]DirtyReason, len(surgical)+len(missingOnly))
		for id := range surgical {
			merged[id] = struct{}{}
			mergedReasons[id] = ReasonRegeneration
		}
		for id := range missingOnly {
			merged[id] = struct{}{}
			if _, ok := mergedReasons[id]; !ok {
				mergedReasons[id] = ReasonMissing
			}
		}
		dirtyJobs = merged
		reasons = mergedReasons

	case req.ReRunFrom != nil:
		for _, n := range req.Graph.Nodes {
			if layers.Assignments[n.JobID] >= *req.ReRunFrom {
				if _, seen := dirtyJobs[n.JobID]; !seen {
					dirtyJobs[n.JobID] = struct{}{}
					reasons[n.JobID] = ReasonRerunFrom
				}
			}
		}
	}

	if req.UpToLayer != nil {
		for id := range dirtyJobs {
			if layers.Assignments[id] > *req.UpToLayer {
				delete(dirtyJobs, id)
				delete(reasons, id)
			}
		}
	}

	return assemblePlan(req, layers, dirtyJobs, reasons, manifestBaseHash), nil
}

func dirtyInputSet(man manifest.Manifest, pendingEdits map[string]any) (map[string]bool, error) {
	dirty := make(map[string]bool)
	snapshot := make(map[string]string, len(man.Inputs))
	for id, entry := range man.Inputs {
		snapshot[id] = entry.Hash
	}
	for id, value := range pendingEdits {
		ph, err := hashing.HashPayload(value)
		if err != nil {
			return nil, err
		}
		if snapshot[id] != ph.Hash {
			dirty[id] = true
		}
		snapshot[id] = ph.Hash
	}
	return dirty, nil
}

func dirtyArtefactSet(ctx context.Context, store eventlog.Store, movieID string, man manifest.Manifest) (map[string]bool, error) {
	dirty := make(map[string]bool)
	events, err := store.LoadArtefacts(ctx, movieID, man.Revision)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]eventlog.ArtefactEvent)
	for _, e := range events {
		if e.Revision == man.Revision {
			continue
		}
		latest[e.ArtefactID] = e
	}
	for id, e := range latest {
		outHash, err := manifest.ArtefactOutputHash(e)
		if err != nil {
			return nil, err
		}
		if existing, ok := man.Artefacts[id]; !ok || existing.Hash != outHash {
			dirty[id] = true
		}
	}
	return dirty, nil
}

// propagateDirty runs a BFS forward from dirty inputs/artifacts and from
// jobs with missing expected outputs, following graph edges. Config-input
// ids (Input:<Alias>.<field>) only dirty the one producer they name.
func propagateDirty(g *graph.ProducerGraph, man manifest.Manifest, dirtyInputs, dirtyArtefacts map[string]bool) (map[string]struct{}, map[string]DirtyReason) {
	producedBy := make(map[string]string)
	for _, n := range g.Nodes {
		for _, out := range n.Produces {
			producedBy[out] = n.JobID
		}
	}
	consumers := make(map[string][]string) // canonical id -> job ids consuming it
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			consumers[in] = append(consumers[in], n.JobID)
		}
	}
	successors := make(map[string][]string)
	for _, e := range g.Edges {
		successors[e.From] = append(successors[e.From], e.To)
	}

	dirtyJobs := make(map[string]struct{})
	reasons := make(map[string]DirtyReason)
	var queue []string

	mark := func(jobID string, reason DirtyReason) {
		if _, seen := dirtyJobs[jobID]; !seen {
			dirtyJobs[jobID] = struct{}{}
			reasons[jobID] = reason
			queue = append(queue, jobID)
		}
	}

	seed := func(id string, reason DirtyReason) {
		if jobID, ok := producedBy[id]; ok {
			mark(jobID, reason)
			return
		}
		// consumers[id] is already scoped to exactly the jobs that declared
		// id among their own Inputs (config-input ids are built from a
		// producer's full alias, so a dimensioned producer's N instances all
		// carry the same config-input id and all dirty here).
		for _, consumerJobID := range consumers[id] {
			mark(consumerJobID, reason)
		}
	}

	for id := range dirtyInputs {
		seed(id, ReasonDirtyInput)
	}
	for id := range dirtyArtefacts {
		seed(id, ReasonDirtyArtefact)
	}
	for id := range missingArtefactJobs(g, man) {
		mark(id, ReasonMissing)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, succ := range successors[id] {
			mark(succ, ReasonDescendant)
		}
	}

	return dirtyJobs, reasons
}

func missingArtefactJobs(g *graph.ProducerGraph, man manifest.Manifest) map[string]struct{} {
	missing := make(map[string]struct{})
	for _, n := range g.Nodes {
		for _, out := range n.Produces {
			if _, ok := man.Artefacts[out]; !ok {
				missing[n.JobID] = struct{}{}
				break
			}
		}
	}
	return missing
}

// computeMultipleArtifactRegenerationJobs resolves each source artifact id
// to its producing job, then to every descendant job reachable through the
// graph's edges.
func computeMultipleArtifactRegenerationJobs(sources []string, g *graph.ProducerGraph) map[string]struct{} {
	producedBy := make(map[string]string)
	for _, n := range g.Nodes {
		for _, out := range n.Produces {
			producedBy[out] = n.JobID
		}
	}
	successors := make(map[string][]string)
	for _, e := range g.Edges {
		successors[e.From] = append(successors[e.From], e.To)
	}

	result := make(map[string]struct{})
	var visit func(jobID string)
	visit = func(jobID string) {
		if _, seen := result[jobID]; seen {
			return
		}
		result[jobID] = struct{}{}
		for _, succ := range successors[jobID] {
			visit(succ)
		}
	}

	for _, src := range sources {
		if jobID, ok := producedBy[src]; ok {
			visit(jobID)
		}
	}
	return result
}

func assemblePlan(req Request, layers topology.Layers, dirtyJobs map[string]struct{}, reasons map[string]DirtyReason, manifestBaseHash string) Plan {
	byLayer := make(map[int][]graph.JobDescriptor)
	maxLayer := -1
	for _, n := range req.Graph.Nodes {
		if _, ok := dirtyJobs[n.JobID]; !ok {
			continue
		}
		l := layers.Assignments[n.JobID]
		byLayer[l] = append(byLayer[l], n)
		if l > maxLayer {
			maxLayer = l
		}
	}

	var result [][]graph.JobDescriptor
	for l := 0; l <= maxLayer; l++ {
		jobs := byLayer[l]
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].JobID < jobs[j].JobID })
		result = append(result, jobs)
	}

	return Plan{
		Revision:            req.TargetRevision,
		ManifestBaseHash:    manifestBaseHash,
		Layers:              result,
		BlueprintLayerCount: layers.LayerCount,
		DiffSummary:         summarizeDiff(dirtyJobs, reasons),
	}
}

// summarizeDiff tallies each dirty job's attributed DirtyReason into the
// counts a --dry-run caller reports alongside the ExecutionPlan.
func summarizeDiff(dirtyJobs map[string]struct{}, reasons map[string]DirtyReason) DiffSummary {
	summary := DiffSummary{
		JobsAdded: len(dirtyJobs),
		Reasons:   make(map[string]DirtyReason, len(dirtyJobs)),
	}
	for id := range dirtyJobs {
		reason := reasons[id]
		summary.Reasons[id] = reason
		switch reason {
		case ReasonDirtyInput, ReasonRerunFrom:
			summary.JobsDirtyInputs++
		case ReasonDirtyArtefact, ReasonRegeneration:
			summary.JobsDirtyArtefacts++
		case ReasonMissing:
			summary.JobsDirtyMissing++
		case ReasonDescendant:
			summary.JobsDescendant++
		}
	}
	return summary
}
