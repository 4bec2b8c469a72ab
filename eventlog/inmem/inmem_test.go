package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forge.design/mediaforge/eventlog"
)

func TestStoreAppendInputAndLoad(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.AppendInput(ctx, "movie-1", eventlog.InputEvent{
		ID: "Input:InquiryPrompt", Revision: "rev-0001", Hash: "h1", CreatedAt: time.Unix(1, 0),
	}))
	require.NoError(t, s.AppendInput(ctx, "movie-1", eventlog.InputEvent{
		ID: "Input:InquiryPrompt", Revision: "rev-0002", Hash: "h2", CreatedAt: time.Unix(2, 0),
	}))

	all, err := s.LoadInputs(ctx, "movie-1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	since, err := s.LoadInputs(ctx, "movie-1", "rev-0001")
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.Equal(t, "rev-0002", since[0].Revision)
}

func TestStoreAppendInputConflictingRevision(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.AppendInput(ctx, "movie-1", eventlog.InputEvent{
		ID: "Input:InquiryPrompt", Revision: "rev-0001", Hash: "h1",
	}))

	// Identical event is a silent no-op.
	require.NoError(t, s.AppendInput(ctx, "movie-1", eventlog.InputEvent{
		ID: "Input:InquiryPrompt", Revision: "rev-0001", Hash: "h1",
	}))

	// Same (id, revision) with a different hash conflicts.
	err := s.AppendInput(ctx, "movie-1", eventlog.InputEvent{
		ID: "Input:InquiryPrompt", Revision: "rev-0001", Hash: "h-different",
	})
	require.ErrorIs(t, err, eventlog.ErrConflictingRevision)
}

func TestStoreAppendArtefactDeduplicates(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	event := eventlog.ArtefactEvent{
		ArtefactID: "Artifact:Script", Revision: "rev-0001", ProducedBy: "Producer:ScriptProducer",
		Status: eventlog.StatusSucceeded,
	}
	require.NoError(t, s.AppendArtefact(ctx, "movie-1", event))
	require.NoError(t, s.AppendArtefact(ctx, "movie-1", event))

	all, err := s.LoadArtefacts(ctx, "movie-1", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestStoreLoadOrderIsAppendOrder(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i, rev := range []string{"rev-0001", "rev-0002", "rev-0003"} {
		require.NoError(t, s.AppendArtefact(ctx, "movie-1", eventlog.ArtefactEvent{
			ArtefactID: "Artifact:Script", Revision: rev, ProducedBy: "Producer:ScriptProducer",
			Status: eventlog.StatusSucceeded, CreatedAt: time.Unix(int64(i), 0),
		}))
	}

	all, err := s.LoadArtefacts(ctx, "movie-1", "")
	require.NoError(t, err)
	require.Equal(t, []string{"rev-0001", "rev-0002", "rev-0003"}, []string{all[0].Revision, all[1].Revision, all[2].Revision})
}
