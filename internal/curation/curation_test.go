package curation

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/noobynull/laminark/internal/agent"
	"github.com/noobynull/laminark/internal/store"

	"github.com/stretchr/testify/require"
)

type stubAgent struct {
	response string
	err      error
	calls    int
}

func (a *stubAgent) Complete(ctx context.Context, prompt string, timeoutMS int) (agent.Result, error) {
	a.calls++
	if a.err != nil {
		return agent.Result{}, a.err
	}
	return agent.Result{Text: a.response, StopReason: "stop"}, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "laminark.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunOnce_ClassifiesAndSoftDeletesNoise(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.Record(ctx, store.ObservationInput{ProjectHash: "proj-a", Content: "renamed the paginator interface", Source: "a.go"})
	require.NoError(t, err)
	b, err := s.Record(ctx, store.ObservationInput{ProjectHash: "proj-a", Content: "ls internal/", Source: "bash"})
	require.NoError(t, err)

	stub := &stubAgent{response: fmt.Sprintf(
		`[{"id": %d, "classification": "discovery", "reason": "renamed interface"}, {"id": %d, "classification": "noise", "reason": "directory listing"}]`,
		a.ID, b.ID)}

	pipeline := New(s, stub, Config{})
	stats, err := pipeline.RunOnce(ctx, "proj-a")
	require.NoError(t, err)
	require.Equal(t, 2, stats.RowsClassified)

	fetchedA, err := s.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, ClassificationDiscovery, fetchedA.Classification)

	_, err = s.GetByID(ctx, b.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	purgedB, err := s.GetByIDIncludingDeleted(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, ClassificationNoise, purgedB.Classification)
	require.NotNil(t, purgedB.DeletedAt)
}

func TestRunOnce_DropsVerdictsNotInPendingSet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.Record(ctx, store.ObservationInput{ProjectHash: "proj-a", Content: "something happened", Source: "a.go"})
	require.NoError(t, err)

	stub := &stubAgent{response: fmt.Sprintf(`[{"id": %d, "classification": "discovery"}, {"id": 999999, "classification": "noise"}]`, a.ID)}

	pipeline := New(s, stub, Config{})
	stats, err := pipeline.RunOnce(ctx, "proj-a")
	require.NoError(t, err)
	require.Equal(t, 1, stats.RowsClassified)
}

func TestRunOnce_MalformedResponseYieldsZeroUpdates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.Record(ctx, store.ObservationInput{ProjectHash: "proj-a", Content: "something happened", Source: "a.go"})
	require.NoError(t, err)

	stub := &stubAgent{response: "not json at all"}
	pipeline := New(s, stub, Config{})
	stats, err := pipeline.RunOnce(ctx, "proj-a")
	require.NoError(t, err)
	require.Equal(t, 0, stats.RowsClassified)

	fetched, err := s.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, fetched.Classification)
}

func TestRunOnce_AgentErrorChangesNoRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Record(ctx, store.ObservationInput{ProjectHash: "proj-a", Content: "something happened", Source: "a.go"})
	require.NoError(t, err)

	stub := &stubAgent{err: fmt.Errorf("agent unavailable")}
	pipeline := New(s, stub, Config{})
	stats, err := pipeline.RunOnce(ctx, "proj-a")
	require.NoError(t, err)
	require.Equal(t, 0, stats.RowsClassified)
}

func TestExtractEntities_LinksNodesViaGraphDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs, err := s.Record(ctx, store.ObservationInput{ProjectHash: "proj-a", Content: "auth.go now calls session.go to validate tokens", Source: "auth.go"})
	require.NoError(t, err)

	stub := &stubAgent{response: `{"edges": [{"source": {"name": "auth.go", "type": "file"}, "target": {"name": "session.go", "type": "file"}, "relation": "calls"}]}`}
	pipeline := New(s, stub, Config{})

	linked, err := pipeline.ExtractEntities(ctx, "proj-a", []*store.Observation{obs})
	require.NoError(t, err)
	require.Equal(t, 1, linked)

	src, err := s.UpsertNode(ctx, "proj-a", "auth.go", "file")
	require.NoError(t, err)
	edges, err := s.Neighbors(ctx, src.ID, "out")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, "calls", edges[0].Relation)
}

func TestRunFallback_PromotesStaleUnclassified(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs, err := s.Record(ctx, store.ObservationInput{ProjectHash: "proj-a", Content: "old unreviewed row", Source: "a.go"})
	require.NoError(t, err)
	// SQLite's CURRENT_TIMESTAMP has one-second resolution; cross a full
	// second boundary so the fallback cutoff reliably lands after it.
	time.Sleep(1100 * time.Millisecond)

	pipeline := New(s, &stubAgent{}, Config{FallbackTimeout: 1 * time.Millisecond})
	stats, err := pipeline.RunFallback(ctx, "proj-a")
	require.NoError(t, err)
	require.Equal(t, 1, stats.RowsAutoPromoted)

	fetched, err := s.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	require.Equal(t, ClassificationDiscovery, fetched.Classification)
}
