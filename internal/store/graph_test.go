package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertNode_FuzzyDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n1, err := s.UpsertNode(ctx, "proj-a", "internal/auth/login.go", "file")
	require.NoError(t, err)

	// Case-fold match.
	n2, err := s.UpsertNode(ctx, "proj-a", "INTERNAL/AUTH/LOGIN.GO", "file")
	require.NoError(t, err)
	require.Equal(t, n1.ID, n2.ID)

	// Punctuation-normalized match.
	n3, err := s.UpsertNode(ctx, "proj-a", "internal_auth_login_go", "file")
	require.NoError(t, err)
	require.Equal(t, n1.ID, n3.ID)

	// A genuinely distinct node must not collapse onto n1.
	n4, err := s.UpsertNode(ctx, "proj-a", "internal/billing/charge.go", "file")
	require.NoError(t, err)
	require.NotEqual(t, n1.ID, n4.ID)
}

func TestUpsertNode_PathSuffixMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n1, err := s.UpsertNode(ctx, "proj-a", "src/graph/types.ts", "file")
	require.NoError(t, err)

	n2, err := s.UpsertNode(ctx, "proj-a", "graph/types.ts", "file")
	require.NoError(t, err)
	require.Equal(t, n1.ID, n2.ID)
	require.Equal(t, "Path suffix match", n2.MergeReason)

	// A deeper path must merge onto a shallower one too, not just the
	// one-directory-level case.
	m1, err := s.UpsertNode(ctx, "proj-b", "graph/types.ts", "file")
	require.NoError(t, err)
	m2, err := s.UpsertNode(ctx, "proj-b", "internal/foo/graph/types.ts", "file")
	require.NoError(t, err)
	require.Equal(t, m1.ID, m2.ID)
	require.Equal(t, "Path suffix match", m2.MergeReason)
}

func TestUpsertNode_AliasRecordedOnFuzzyMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n1, err := s.UpsertNode(ctx, "proj-a", "paginator", "concept")
	require.NoError(t, err)

	// Close enough by Levenshtein distance to merge, distinct enough to record as an alias.
	n2, err := s.UpsertNode(ctx, "proj-a", "paginatr", "concept")
	require.NoError(t, err)
	require.Equal(t, n1.ID, n2.ID)
	require.Contains(t, n2.Aliases, "paginatr")
}

func TestUpsertNode_JaccardTokenMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n1, err := s.UpsertNode(ctx, "proj-a", "rate limit middleware", "concept")
	require.NoError(t, err)

	// Shares 2 of 3 tokens (jaccard = 2/4 = 0.5, below threshold) so this
	// must NOT merge - distinct enough to stay its own node.
	n2, err := s.UpsertNode(ctx, "proj-a", "rate limit handler", "concept")
	require.NoError(t, err)
	require.NotEqual(t, n1.ID, n2.ID)

	// Same tokens, different order and separator - jaccard = 1.0, must merge.
	n3, err := s.UpsertNode(ctx, "proj-a", "middleware_rate_limit", "concept")
	require.NoError(t, err)
	require.Equal(t, n1.ID, n3.ID)
}

func TestLinkNodesAndTraversePath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.UpsertNode(ctx, "proj-a", "login.go", "file")
	require.NoError(t, err)
	b, err := s.UpsertNode(ctx, "proj-a", "session.go", "file")
	require.NoError(t, err)
	c, err := s.UpsertNode(ctx, "proj-a", "token.go", "file")
	require.NoError(t, err)

	require.NoError(t, s.LinkNodes(ctx, "proj-a", a.ID, b.ID, "imports", 1.0, nil))
	require.NoError(t, s.LinkNodes(ctx, "proj-a", b.ID, c.ID, "imports", 1.0, nil))

	path, err := s.TraversePath(ctx, a.ID, c.ID, 5)
	require.NoError(t, err)
	require.Len(t, path, 2)
}

func TestTraversePath_NoPath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.UpsertNode(ctx, "proj-a", "isolated_alpha.go", "file")
	require.NoError(t, err)
	b, err := s.UpsertNode(ctx, "proj-a", "isolated_beta.go", "file")
	require.NoError(t, err)

	_, err = s.TraversePath(ctx, a.ID, b.ID, 5)
	require.ErrorIs(t, err, ErrNotFound)
}
