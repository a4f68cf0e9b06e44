package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearch_ExcludesUnclassifiedByDefault(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	classified, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "paginator drops the last page", Source: "a.go"})
	require.NoError(t, err)
	require.NoError(t, s.Classify(ctx, classified.ID, "discovery"))

	_, err = s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "paginator still pending curation", Source: "b.go"})
	require.NoError(t, err)

	results, err := s.Search(ctx, "proj-a", "paginator", nil, SearchOptions{Limit: 5, RRFK: 60, CandidateMultiplier: 4, SnippetMaxLen: 160})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, classified.ID, results[0].Observation.ID)

	withUnclassified, err := s.Search(ctx, "proj-a", "paginator", nil, SearchOptions{Limit: 5, RRFK: 60, CandidateMultiplier: 4, SnippetMaxLen: 160, IncludeUnclassified: true})
	require.NoError(t, err)
	require.Len(t, withUnclassified, 2)
}

func TestSearch_FiltersBySessionAndKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "concurrent paginator bug", Source: "a.go", SessionID: "s1", Kind: "problem"})
	require.NoError(t, err)
	require.NoError(t, s.Classify(ctx, a.ID, "problem"))

	b, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "concurrent paginator fix", Source: "b.go", SessionID: "s2", Kind: "change"})
	require.NoError(t, err)
	require.NoError(t, s.Classify(ctx, b.ID, "solution"))

	results, err := s.Search(ctx, "proj-a", "paginator", nil, SearchOptions{Limit: 5, RRFK: 60, CandidateMultiplier: 4, SnippetMaxLen: 160, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, a.ID, results[0].Observation.ID)

	results, err = s.Search(ctx, "proj-a", "paginator", nil, SearchOptions{Limit: 5, RRFK: 60, CandidateMultiplier: 4, SnippetMaxLen: 160, Kind: "change"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, b.ID, results[0].Observation.ID)
}

func TestSearch_TitleWeightedAboveContentMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	titleHit, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "unrelated body text", Title: "paginator regression", Source: "a.go"})
	require.NoError(t, err)
	require.NoError(t, s.Classify(ctx, titleHit.ID, "discovery"))

	contentHit, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "paginator regression seen under load", Title: "", Source: "b.go"})
	require.NoError(t, err)
	require.NoError(t, s.Classify(ctx, contentHit.ID, "discovery"))

	results, err := s.Search(ctx, "proj-a", "paginator regression", nil, SearchOptions{Limit: 5, RRFK: 60, CandidateMultiplier: 4, SnippetMaxLen: 160})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, titleHit.ID, results[0].Observation.ID)
}
