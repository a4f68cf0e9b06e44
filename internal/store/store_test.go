package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "laminark.db")
	s, err := Open(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGetByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs, err := s.Record(ctx, ObservationInput{
		ProjectHash: "proj-a",
		Content:     "fixed the off-by-one in the paginator",
		Source:      "internal/paginate.go",
		Kind:        "change",
	})
	require.NoError(t, err)
	require.NotZero(t, obs.ID)
	require.NotEmpty(t, obs.UID)

	fetched, err := s.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	require.Equal(t, obs.Content, fetched.Content)
}

func TestRecord_RejectsEmptyContent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Record(context.Background(), ObservationInput{ProjectHash: "proj-a", Content: ""})
	require.ErrorIs(t, err, ErrValidation)
}

func TestGetBySource_PrefixMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "a", Source: "internal/auth/login.go"})
	require.NoError(t, err)
	_, err = s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "b", Source: "internal/auth/session.go"})
	require.NoError(t, err)
	_, err = s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "c", Source: "internal/billing/charge.go"})
	require.NoError(t, err)

	results, err := s.GetBySource(ctx, "proj-a", "internal/auth/", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestGetBySource_ScopedByProject(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "a", Source: "x.go"})
	require.NoError(t, err)
	_, err = s.Record(ctx, ObservationInput{ProjectHash: "proj-b", Content: "b", Source: "x.go"})
	require.NoError(t, err)

	results, err := s.GetBySource(ctx, "proj-a", "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "proj-a", results[0].ProjectHash)
}

func TestSearch_LexicalRanking(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "the paginator drops the last page under concurrent writes", Source: "a.go"})
	require.NoError(t, err)
	_, err = s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "unrelated billing reconciliation logic", Source: "b.go"})
	require.NoError(t, err)

	results, err := s.Search(ctx, "proj-a", "paginator concurrent", nil, SearchOptions{Limit: 5, RRFK: 60, CandidateMultiplier: 4, SnippetMaxLen: 160, IncludeUnclassified: true})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Contains(t, results[0].Snippet, "<mark>")
}

func TestClassify_NoiseSoftDeletesAutomatically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "noise: listed directory contents", Source: "ls"})
	require.NoError(t, err)

	require.NoError(t, s.Classify(ctx, obs.ID, "noise"))

	// Classify alone must hide the row from default reads, with no
	// separate SoftDelete call required.
	_, err = s.GetByID(ctx, obs.ID)
	require.ErrorIs(t, err, ErrNotFound)

	purged, err := s.GetByIDIncludingDeleted(ctx, obs.ID)
	require.NoError(t, err)
	require.Equal(t, "noise", purged.Classification)
	require.NotNil(t, purged.DeletedAt)
}

func TestClassify_NonNoiseLeavesRowVisible(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "fixed the paginator bug", Source: "a.go"})
	require.NoError(t, err)

	require.NoError(t, s.Classify(ctx, obs.ID, "discovery"))

	fetched, err := s.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	require.Equal(t, "discovery", fetched.Classification)
	require.Nil(t, fetched.DeletedAt)
}

func TestStore_IntegrityCheckAndCheckpoint(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IntegrityCheck())
	require.NoError(t, s.Checkpoint())
}

func TestRecordClassified_BypassesCurationQueue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs, err := s.RecordClassified(ctx, ObservationInput{ProjectHash: "proj-a", Content: "user pinned this fact", Source: "user"}, "insight")
	require.NoError(t, err)
	require.Equal(t, "insight", obs.Classification)
	require.NotNil(t, obs.ClassifiedAt)

	unclassified, err := s.ListUnclassified(ctx, "proj-a", 10)
	require.NoError(t, err)
	require.Empty(t, unclassified)
}

func TestRestore_ClearsSoftDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "temp", Source: "x"})
	require.NoError(t, err)
	require.NoError(t, s.SoftDelete(ctx, obs.ID))

	_, err = s.GetByID(ctx, obs.ID)
	require.ErrorIs(t, err, ErrNotFound)

	deleted, err := s.GetByIDIncludingDeleted(ctx, obs.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)

	require.NoError(t, s.Restore(ctx, obs.ID))
	restored, err := s.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	require.Nil(t, restored.DeletedAt)
}

func TestUpdate_PatchesContentAndTitle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "original", Title: "orig title", Source: "x"})
	require.NoError(t, err)

	newContent := "revised content"
	require.NoError(t, s.Update(ctx, obs.ID, ObservationUpdate{Content: &newContent}))

	fetched, err := s.GetByID(ctx, obs.ID)
	require.NoError(t, err)
	require.Equal(t, "revised content", fetched.Content)
	require.Equal(t, "orig title", fetched.Title)
}

func TestUpdate_UnknownObservation(t *testing.T) {
	s := openTestStore(t)
	newContent := "x"
	err := s.Update(context.Background(), 999999, ObservationUpdate{Content: &newContent})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestList_FiltersBySessionKindAndClassification(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	obs1, err := s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "a", Source: "x", SessionID: "s1", Kind: "change"})
	require.NoError(t, err)
	require.NoError(t, s.Classify(ctx, obs1.ID, "discovery"))

	_, err = s.Record(ctx, ObservationInput{ProjectHash: "proj-a", Content: "b", Source: "y", SessionID: "s2", Kind: "change"})
	require.NoError(t, err)

	results, err := s.List(ctx, "proj-a", ListOptions{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, obs1.ID, results[0].ID)

	all, err := s.List(ctx, "proj-a", ListOptions{IncludeUnclassified: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
