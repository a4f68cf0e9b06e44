// Package project computes the stable per-project identifier that scopes
// every row laminark stores, so one shared database can serve multiple
// checkouts without cross-project leakage.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// HashLen is the number of hex characters kept from the full digest.
const HashLen = 16

// Hash returns the first 16 hex characters of sha256(realpath), where
// realpath is the symlink-resolved absolute path to the project root.
// The same project directory always yields the same hash regardless of
// which symlink or relative path was used to reach it.
func Hash(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Fall back to the absolute, non-resolved path (e.g. the
		// directory doesn't exist yet) rather than failing outright.
		real = abs
	}
	real = filepath.Clean(real)

	sum := sha256.Sum256([]byte(real))
	return hex.EncodeToString(sum[:])[:HashLen], nil
}
