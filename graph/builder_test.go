package graph_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"forge.design/mediaforge/blueprint"
	"forge.design/mediaforge/engineerr"
	"forge.design/mediaforge/graph"
)

func segmentDim() blueprint.Dimension {
	return blueprint.Dimension{
		Name:      "segment",
		CountFrom: blueprint.SourceRef{Kind: blueprint.RefRootInput, Name: "Segments"},
	}
}

func TestBuildExpandsSingleDimensionProducer(t *testing.T) {
	bp := &blueprint.Blueprint{
		Meta: blueprint.Meta{Name: "test"},
		Producers: []blueprint.Producer{
			{
				Alias:      "NarrationProducer",
				Dimensions: []blueprint.Dimension{segmentDim()},
				Inputs: []blueprint.InputBinding{
					{LogicalName: "Segment", Source: blueprint.SourceRef{Kind: blueprint.RefRootInput, Name: "Segments"}},
				},
				Produces: []string{"Narration"},
			},
		},
	}
	rootInputs := map[string]any{"Segments": []any{"a", "b", "c"}}

	g, err := graph.Build(bp, rootInputs)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3)
	require.Equal(t, "Producer:NarrationProducer[0]", g.Nodes[0].JobID)
	require.Equal(t, "Producer:NarrationProducer[2]", g.Nodes[2].JobID)
	require.Equal(t, []string{"Artifact:NarrationProducer.Narration[0]"}, g.Nodes[0].Produces)
}

// TestBuildUnifiesSharedDimensionAcrossTwoParents covers shared-dimension unification:
// two parents feeding one child on the same dimension with extent n expand
// the child to exactly n jobs, never n^2.
func TestBuildUnifiesSharedDimensionAcrossTwoParents(t *testing.T) {
	bp := &blueprint.Blueprint{
		Meta: blueprint.Meta{Name: "test"},
		Producers: []blueprint.Producer{
			{
				Alias:      "ScriptProducer",
				Dimensions: []blueprint.Dimension{segmentDim()},
				Produces:   []string{"Script"},
			},
			{
				Alias:      "AudioProducer",
				Dimensions: []blueprint.Dimension{segmentDim()},
				Produces:   []string{"Audio"},
			},
			{
				Alias:      "MuxProducer",
				Dimensions: []blueprint.Dimension{segmentDim()},
				Inputs: []blueprint.InputBinding{
					{LogicalName: "Script", Source: blueprint.SourceRef{Kind: blueprint.RefArtifact, ProducerAlias: "ScriptProducer", Output: "Script"}},
					{LogicalName: "Audio", Source: blueprint.SourceRef{Kind: blueprint.RefArtifact, ProducerAlias: "AudioProducer", Output: "Audio"}},
				},
				Produces: []string{"Mux"},
			},
		},
	}
	rootInputs := map[string]any{"Segments": []any{"a", "b"}}

	g, err := graph.Build(bp, rootInputs)
	require.NoError(t, err)

	var muxJobs int
	for _, n := range g.Nodes {
		if n.Producer == "MuxProducer" {
			muxJobs++
		}
	}
	require.Equal(t, 2, muxJobs, "unification must produce n jobs, not n^2")

	node, ok := g.NodeByID("Producer:MuxProducer[0]")
	require.True(t, ok)
	require.Equal(t, "Artifact:ScriptProducer.Script[0]", node.Context.InputBindings["Script"].CanonicalID)
	require.Equal(t, "Artifact:AudioProducer.Audio[0]", node.Context.InputBindings["Audio"].CanonicalID)

	requireEdge(t, g, "Producer:ScriptProducer[0]", "Producer:MuxProducer[0]")
	requireEdge(t, g, "Producer:AudioProducer[1]", "Producer:MuxProducer[1]")
}

func TestBuildConflictingDimensionExtentsFails(t *testing.T) {
	bp := &blueprint.Blueprint{
		Meta: blueprint.Meta{Name: "test"},
		Producers: []blueprint.Producer{
			{
				Alias:      "ScriptProducer",
				Dimensions: []blueprint.Dimension{{Name: "segment", CountFrom: blueprint.SourceRef{Kind: blueprint.RefRootInput, Name: "Segments"}}},
				Produces:   []string{"Script"},
			},
			{
				Alias:      "OtherProducer",
				Dimensions: []blueprint.Dimension{{Name: "segment", CountFrom: blueprint.SourceRef{Kind: blueprint.RefRootInput, Name: "OtherSegments"}}},
				Produces:   []string{"Other"},
			},
		},
	}
	rootInputs := map[string]any{
		"Segments":      []any{"a", "b"},
		"OtherSegments": []any{"x", "y", "z"},
	}

	_, err := graph.Build(bp, rootInputs)
	require.Error(t, err)
	require.True(t, engineerr.Is(err, engineerr.ConflictingDimensions))
}

func TestBuildFanInEnvelopeGroupsUpstreamIndices(t *testing.T) {
	bp := &blueprint.Blueprint{
		Meta: blueprint.Meta{Name: "test"},
		Producers: []blueprint.Producer{
			{
				Alias:      "AudioProducer",
				Dimensions: []blueprint.Dimension{segmentDim()},
				Produces:   []string{"Audio"},
			},
			{
				Alias: "TimelineProducer",
				Inputs: []blueprint.InputBinding{
					{
						LogicalName: "Audios",
						Source:      blueprint.SourceRef{Kind: blueprint.RefArtifact, ProducerAlias: "AudioProducer", Output: "Audio"},
						FanIn:       &blueprint.FanIn{GroupBy: "segment"},
					},
				},
				Produces: []string{"Timeline"},
			},
		},
	}
	rootInputs := map[string]any{"Segments": []any{"a", "b", "c"}}

	g, err := graph.Build(bp, rootInputs)
	require.NoError(t, err)

	node, ok := g.NodeByID("Producer:TimelineProducer")
	require.True(t, ok)
	envelope := node.Context.InputBindings["Audios"].Envelope
	require.NotNil(t, envelope)
	require.Equal(t, "segment", envelope.GroupBy)
	require.Equal(t, [][]string{
		{"Artifact:AudioProducer.Audio[0]"},
		{"Artifact:AudioProducer.Audio[1]"},
		{"Artifact:AudioProducer.Audio[2]"},
	}, envelope.Groups)

	requireEdge(t, g, "Producer:AudioProducer[1]", "Producer:TimelineProducer")
}

func TestBuildMissingFanInOnMismatchedDimensionsFails(t *testing.T) {
	bp := &blueprint.Blueprint{
		Meta: blueprint.Meta{Name: "test"},
		Producers: []blueprint.Producer{
			{
				Alias:      "AudioProducer",
				Dimensions: []blueprint.Dimension{segmentDim()},
				Produces:   []string{"Audio"},
			},
			{
				Alias: "TimelineProducer",
				Inputs: []blueprint.InputBinding{
					{LogicalName: "Audios", Source: blueprint.SourceRef{Kind: blueprint.RefArtifact, ProducerAlias: "AudioProducer", Output: "Audio"}},
				},
				Produces: []string{"Timeline"},
			},
		},
	}
	rootInputs := map[string]any{"Segments": []any{"a", "b"}}

	_, err := graph.Build(bp, rootInputs)
	require.Error(t, err)
	require.True(t, engineerr.Is(err, engineerr.ConflictingDimensions))
}

func TestBuildNamespacePathFromNestedImport(t *testing.T) {
	inner := &blueprint.Blueprint{
		Meta: blueprint.Meta{Name: "inner"},
		Producers: []blueprint.Producer{
			{Alias: "ImageProducer", Produces: []string{"Image"}},
		},
	}
	outer := &blueprint.Blueprint{
		Meta:    blueprint.Meta{Name: "outer"},
		Imports: []blueprint.Import{{Alias: "Character", Blueprint: inner}},
	}

	g, err := graph.Build(outer, nil)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 1)
	require.Equal(t, "Producer:Character.ImageProducer", g.Nodes[0].JobID)
	require.Equal(t, []string{"Character"}, g.Nodes[0].Context.NamespacePath)
}

// TestBuildDimensionUnificationProperty covers dimension unification across
// an arbitrary shared extent: two independent parents and a child that
// consumes both must always expand to exactly n jobs each, for any n, never
// the n^2 a naive cross product over the two parents would produce.
func TestBuildDimensionUnificationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("shared-dimension fan-out is linear in the extent, never quadratic", prop.ForAll(
		func(n int) bool {
			segments := make([]any, n)
			for i := range segments {
				segments[i] = i
			}
			bp := &blueprint.Blueprint{
				Meta: blueprint.Meta{Name: "test"},
				Producers: []blueprint.Producer{
					{Alias: "ScriptProducer", Dimensions: []blueprint.Dimension{segmentDim()}, Produces: []string{"Script"}},
					{Alias: "AudioProducer", Dimensions: []blueprint.Dimension{segmentDim()}, Produces: []string{"Audio"}},
					{
						Alias:      "MuxProducer",
						Dimensions: []blueprint.Dimension{segmentDim()},
						Inputs: []blueprint.InputBinding{
							{LogicalName: "Script", Source: blueprint.SourceRef{Kind: blueprint.RefArtifact, ProducerAlias: "ScriptProducer", Output: "Script"}},
							{LogicalName: "Audio", Source: blueprint.SourceRef{Kind: blueprint.RefArtifact, ProducerAlias: "AudioProducer", Output: "Audio"}},
						},
						Produces: []string{"Mux"},
					},
				},
			}

			g, err := graph.Build(bp, map[string]any{"Segments": segments})
			if err != nil {
				return false
			}
			counts := map[string]int{}
			for _, node := range g.Nodes {
				counts[node.Producer]++
			}
			return counts["ScriptProducer"] == n && counts["AudioProducer"] == n && counts["MuxProducer"] == n
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func requireEdge(t *testing.T, g *graph.ProducerGraph, from, to string) {
	t.Helper()
	for _, e := range g.Edges {
		if e.From == from && e.To == to {
			return
		}
	}
	t.Fatalf("expected edge %s -> %s, edges: %+v", from, to, g.Edges)
}
