package blueprint_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"forge.design/mediaforge/blueprint"
	"forge.design/mediaforge/graph"
)

// The engine itself never parses blueprint YAML; this fixture exists only
// to exercise blueprint.Blueprint's yaml tags against a hand-written
// document, the shape an external authoring tool would produce.
const fixtureYAML = `
meta:
  name: story
  id: bp-story
  version: "1"
rootInputs:
  - name: InquiryPrompt
    required: true
  - name: SegmentCount
    required: true
producers:
  - alias: Script
    producerId: prod-script
    provider: demo
    providerModel: demo-1
    inputs:
      - logicalName: Prompt
        source:
          kind: root_input
          name: InquiryPrompt
    produces:
      - Script
  - alias: Audio
    producerId: prod-audio
    provider: demo
    providerModel: demo-1
    dimensions:
      - name: segment
        countFrom:
          kind: root_input
          name: SegmentCount
        countField: SegmentCount
    inputs:
      - logicalName: Script
        source:
          kind: artifact
          producerAlias: Script
          output: Script
    produces:
      - Clip
`

func TestBlueprintLoadsFromYAMLFixture(t *testing.T) {
	var bp blueprint.Blueprint
	require.NoError(t, yaml.Unmarshal([]byte(fixtureYAML), &bp))

	require.Equal(t, "story", bp.Meta.Name)
	require.Len(t, bp.RootInputs, 2)
	require.Len(t, bp.Producers, 2)
	require.Equal(t, "Audio", bp.Producers[1].Alias)
	require.Len(t, bp.Producers[1].Dimensions, 1)
	require.Equal(t, "segment", bp.Producers[1].Dimensions[0].Name)
}

func TestBlueprintLoadedFromYAMLBuildsAGraph(t *testing.T) {
	var bp blueprint.Blueprint
	require.NoError(t, yaml.Unmarshal([]byte(fixtureYAML), &bp))

	g, err := graph.Build(&bp, map[string]any{"InquiryPrompt": "a tale", "SegmentCount": 3})
	require.NoError(t, err)
	require.NotNil(t, g)
	require.NotEmpty(t, g.Nodes)
}
