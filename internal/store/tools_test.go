package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordUsage_DemotesAfterRepeatedFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	desc := ToolDescriptor{Name: "flaky-linter", ToolType: "cli", Scope: ToolScopeProject}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordUsage(ctx, "proj-a", desc, false))
	}

	tools, err := s.ListTools(ctx, "proj-a")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	require.Equal(t, ToolStatusDemoted, tools[0].Status)
	require.Equal(t, 3, tools[0].UsageCount)
}

func TestRecordUsage_RestoresOnSuccessAfterDemotion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	desc := ToolDescriptor{Name: "flaky-linter"}
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordUsage(ctx, "proj-a", desc, false))
	}
	tools, err := s.ListTools(ctx, "proj-a")
	require.NoError(t, err)
	require.Equal(t, ToolStatusDemoted, tools[0].Status)

	require.NoError(t, s.RecordUsage(ctx, "proj-a", desc, true))

	tools, err = s.ListTools(ctx, "proj-a")
	require.NoError(t, err)
	require.Equal(t, ToolStatusActive, tools[0].Status)
}

func TestRecordUsage_RejectsEmptyName(t *testing.T) {
	s := openTestStore(t)
	err := s.RecordUsage(context.Background(), "proj-a", ToolDescriptor{}, true)
	require.ErrorIs(t, err, ErrValidation)
}

func TestMarkStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordUsage(ctx, "proj-a", ToolDescriptor{Name: "never-used-again"}, true))

	// staleDays=30 means "last_used_at < 30 days ago", which a just-recorded
	// usage will not satisfy, so nothing should flip to stale yet.
	n, err := s.MarkStale(ctx, "proj-a", 30, nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestMarkStale_DropsUnconfiguredTools(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordUsage(ctx, "proj-a", ToolDescriptor{Name: "still-here"}, true))
	require.NoError(t, s.RecordUsage(ctx, "proj-a", ToolDescriptor{Name: "uninstalled"}, true))

	n, err := s.MarkStale(ctx, "proj-a", 30, []string{"still-here"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	tools, err := s.ListTools(ctx, "proj-a")
	require.NoError(t, err)
	byName := map[string]*ToolRecord{}
	for _, t := range tools {
		byName[t.Name] = t
	}
	require.Equal(t, ToolStatusActive, byName["still-here"].Status)
	require.Equal(t, ToolStatusStale, byName["uninstalled"].Status)
}

func TestAvailableForSession_ScopesGlobalProjectAndPlugin(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordUsage(ctx, "proj-a", ToolDescriptor{Name: "proj-a-only", Scope: ToolScopeProject}, true))
	require.NoError(t, s.RecordUsage(ctx, "proj-b", ToolDescriptor{Name: "proj-b-only", Scope: ToolScopeProject}, true))

	_, err := s.DB().ExecContext(ctx,
		"INSERT INTO tool_registry (project_hash, name, tool_type, scope, status) VALUES (NULL, ?, 'cli', ?, 'active')",
		"global-tool", ToolScopeGlobal)
	require.NoError(t, err)
	_, err = s.DB().ExecContext(ctx,
		"INSERT INTO tool_registry (project_hash, name, tool_type, scope, status) VALUES (NULL, ?, 'cli', ?, 'active')",
		"plugin-tool", ToolScopePlugin)
	require.NoError(t, err)

	available, err := s.AvailableForSession(ctx, "proj-a")
	require.NoError(t, err)

	names := make(map[string]bool, len(available))
	for _, t := range available {
		names[t.Name] = true
	}
	require.True(t, names["proj-a-only"])
	require.True(t, names["global-tool"])
	require.True(t, names["plugin-tool"])
	require.False(t, names["proj-b-only"])
}

func TestSearchTools_LexicalRankingWeightsName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordUsage(ctx, "proj-a", ToolDescriptor{
		Name:        "paginator-lint",
		Description: "checks formatting of unrelated config files",
	}, true))
	require.NoError(t, s.RecordUsage(ctx, "proj-a", ToolDescriptor{
		Name:        "formatter",
		Description: "runs the paginator over source files before lint",
	}, true))

	results, err := s.SearchTools(ctx, "proj-a", "paginator", nil, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "paginator-lint", results[0].Tool.Name)
}

func TestRankTools_PrefersActiveAndFrequentlyUsed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.RecordUsage(ctx, "proj-a", ToolDescriptor{Name: "workhorse"}, true))
	}
	require.NoError(t, s.RecordUsage(ctx, "proj-a", ToolDescriptor{Name: "rarely-used"}, true))

	ranked, err := s.RankTools(ctx, "proj-a")
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	require.Equal(t, "workhorse", ranked[0].Tool.Name)
	require.Greater(t, ranked[0].Score, ranked[1].Score)
}
