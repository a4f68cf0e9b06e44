package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunMigrations_FreshDatabaseReachesCurrentVersion(t *testing.T) {
	s := openTestStore(t)
	require.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s.DB()))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laminark.db")
	s, err := Open(path, false)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(path, false)
	require.NoError(t, err)
	defer s2.Close()
	require.Equal(t, CurrentSchemaVersion, GetSchemaVersion(s2.DB()))
}

func TestMigrationBoundary_FTSColumnsAppendSource(t *testing.T) {
	// A fresh store always lands on CurrentSchemaVersion, so the fts
	// column layout must already reflect the v4 migration's added
	// `source` column, appended after `title`, which stays at index 1.
	openTestStore(t)
	require.Equal(t, []string{"content", "title", "source"}, ftsColumns)
	require.Equal(t, 1, ftsColumnIndex("title"))
	require.Equal(t, 0, ftsColumnIndex("content"))
}
