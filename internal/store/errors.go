package store

import "errors"

// Sentinel errors checked with errors.Is, covering the taxonomy of
// conditions the store surfaces to callers: missing rows, caller input
// that fails validation, uniqueness/state conflicts, and lock contention
// that exhausted the SQLite busy_timeout.
var (
	ErrNotFound   = errors.New("store: not found")
	ErrValidation = errors.New("store: validation failed")
	ErrConflict   = errors.New("store: conflict")
	ErrBusy       = errors.New("store: database busy")
	ErrCorruption = errors.New("store: database integrity check failed")
)
