package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	thread, err := s.CreateThread(ctx, "proj-a", "refactor the paginator")
	require.NoError(t, err)
	require.Equal(t, ThreadStatusActive, thread.Status)

	obs, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "dropped last page under load", Source: "a.go"})
	require.NoError(t, err)
	require.NoError(t, s.AddToThread(ctx, thread.ID, obs.ID))

	require.NoError(t, s.Stash(ctx, thread.ID, "picking this back up after lunch"))

	active, err := s.ListThreads(ctx, "proj-a", ThreadStatusActive)
	require.NoError(t, err)
	require.Empty(t, active)

	stashed, err := s.ListThreads(ctx, "proj-a", ThreadStatusStashed)
	require.NoError(t, err)
	require.Len(t, stashed, 1)
	require.Equal(t, []int64{obs.ID}, stashed[0].ObservationSnapshots)

	resumedObs, err := s.Resume(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, resumedObs, 1)
	require.Equal(t, obs.ID, resumedObs[0].ID)

	resumed, err := s.ListThreads(ctx, "proj-a", ThreadStatusResumed)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
}

func TestResume_DoesNotMutateObservations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	thread, err := s.CreateThread(ctx, "proj-a", "investigate flaky test")
	require.NoError(t, err)
	obs, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "test flakes under -race", Source: "ci"})
	require.NoError(t, err)
	require.NoError(t, s.AddToThread(ctx, thread.ID, obs.ID))
	require.NoError(t, s.Stash(ctx, thread.ID, ""))

	before, err := s.GetByID(ctx, obs.ID)
	require.NoError(t, err)

	_, err = s.Resume(ctx, thread.ID)
	require.NoError(t, err)

	after, err := s.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	require.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestThreadObservations_LiveWorkingSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	thread, err := s.CreateThread(ctx, "proj-a", "investigate flaky test")
	require.NoError(t, err)

	obs, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "test flakes under -race", Source: "ci"})
	require.NoError(t, err)

	require.NoError(t, s.AddToThread(ctx, thread.ID, obs.ID))

	items, err := s.ThreadObservations(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, obs.ID, items[0].ID)
}

func TestStash_UnknownThread(t *testing.T) {
	s := openTestStore(t)
	err := s.Stash(context.Background(), 999999, "")
	require.ErrorIs(t, err, ErrNotFound)
}
