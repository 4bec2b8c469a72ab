package manifest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"forge.design/mediaforge/eventlog"
	"forge.design/mediaforge/eventlog/inmem"
	"forge.design/mediaforge/hashing"
	"forge.design/mediaforge/manifest"
)

func TestMaterializeCollapsesLatestInputAndSucceededArtefact(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	require.NoError(t, store.AppendInput(ctx, "movie-1", eventlog.InputEvent{
		ID: "Input:InquiryPrompt", Revision: "rev-0001", Hash: "h1",
	}))
	require.NoError(t, store.AppendInput(ctx, "movie-1", eventlog.InputEvent{
		ID: "Input:InquiryPrompt", Revision: "rev-0002", Hash: "h2",
	}))

	require.NoError(t, store.AppendArtefact(ctx, "movie-1", eventlog.ArtefactEvent{
		ArtefactID: "Artifact:Script", Revision: "rev-0001", ProducedBy: "Producer:ScriptProducer[0]",
		Status: eventlog.StatusFailed,
		Output: hashing.ArtefactOutput{Inline: "attempt-1"},
	}))
	require.NoError(t, store.AppendArtefact(ctx, "movie-1", eventlog.ArtefactEvent{
		ArtefactID: "Artifact:Script", Revision: "rev-0002", ProducedBy: "Producer:ScriptProducer[0]",
		Status: eventlog.StatusSucceeded,
		Output: hashing.ArtefactOutput{Inline: "attempt-2"},
	}))

	m, err := manifest.Materialize(ctx, store, "movie-1", "rev-0002")
	require.NoError(t, err)

	require.Equal(t, "h2", m.Inputs["Input:InquiryPrompt"].Hash)
	require.Contains(t, m.Artefacts, "Artifact:Script")
	require.Equal(t, eventlog.StatusSucceeded, m.Artefacts["Artifact:Script"].Status)
}

func TestMaterializeExcludesRevisionsAfterTarget(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	require.NoError(t, store.AppendInput(ctx, "movie-1", eventlog.InputEvent{
		ID: "Input:InquiryPrompt", Revision: "rev-0001", Hash: "h1",
	}))
	require.NoError(t, store.AppendInput(ctx, "movie-1", eventlog.InputEvent{
		ID: "Input:InquiryPrompt", Revision: "rev-0002", Hash: "h2",
	}))

	m, err := manifest.Materialize(ctx, store, "movie-1", "rev-0001")
	require.NoError(t, err)
	require.Equal(t, "h1", m.Inputs["Input:InquiryPrompt"].Hash)
}

func TestMaterializeOmitsArtefactsWithNoSucceededAttempt(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	require.NoError(t, store.AppendArtefact(ctx, "movie-1", eventlog.ArtefactEvent{
		ArtefactID: "Artifact:Script", Revision: "rev-0001", ProducedBy: "Producer:ScriptProducer[0]",
		Status: eventlog.StatusFailed,
	}))

	m, err := manifest.Materialize(ctx, store, "movie-1", "rev-0001")
	require.NoError(t, err)
	require.NotContains(t, m.Artefacts, "Artifact:Script")
}
