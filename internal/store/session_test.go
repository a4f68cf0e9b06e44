package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.StartSession(ctx, "proj-a")
	require.NoError(t, err)
	require.Nil(t, sess.EndedAt)

	require.NoError(t, s.EndSession(ctx, sess.ID, "fixed the paginator bug"))

	recent, err := s.RecentSessions(ctx, "proj-a", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.NotNil(t, recent[0].EndedAt)
	require.Equal(t, "fixed the paginator bug", recent[0].Summary)
}

func TestRecentSessions_ScopedByProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.StartSession(ctx, "proj-a")
	require.NoError(t, err)
	_, err = s.StartSession(ctx, "proj-b")
	require.NoError(t, err)

	recent, err := s.RecentSessions(ctx, "proj-a", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
}
