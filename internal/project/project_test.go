package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash_StableAndUnique(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()

	hashA1, err := Hash(dirA)
	require.NoError(t, err)
	hashA2, err := Hash(dirA)
	require.NoError(t, err)
	hashB, err := Hash(dirB)
	require.NoError(t, err)

	require.Equal(t, hashA1, hashA2, "hashing the same path twice must be stable")
	require.NotEqual(t, hashA1, hashB, "different project roots must hash differently")
	require.Len(t, hashA1, HashLen)
}

func TestHash_SymlinkResolvesToSameHash(t *testing.T) {
	real := t.TempDir()
	parent := t.TempDir()
	link := filepath.Join(parent, "link")

	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks not supported in this environment: %v", err)
	}

	hashReal, err := Hash(real)
	require.NoError(t, err)
	hashLink, err := Hash(link)
	require.NoError(t, err)

	require.Equal(t, hashReal, hashLink, "a symlink to the project root must hash the same as the real path")
}
