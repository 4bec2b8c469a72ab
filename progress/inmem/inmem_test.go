package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"forge.design/mediaforge/progress"
	"forge.design/mediaforge/progress/inmem"
)

func TestAppendThenListReturnsInOrder(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()

	require.NoError(t, s.Append(ctx, progress.Event{RunID: "rev-0001", Type: progress.JobStarted, JobID: "Producer:Script"}))
	require.NoError(t, s.Append(ctx, progress.Event{RunID: "rev-0001", Type: progress.JobSucceeded, JobID: "Producer:Script"}))
	require.NoError(t, s.Append(ctx, progress.Event{RunID: "rev-9999", Type: progress.JobStarted, JobID: "Producer:Other"}))

	events, err := s.List(ctx, "rev-0001")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, progress.JobStarted, events[0].Type)
	require.Equal(t, progress.JobSucceeded, events[1].Type)
}
