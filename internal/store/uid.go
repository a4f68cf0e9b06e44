package store

import "github.com/google/uuid"

// newUID mints the surrogate identifier stored alongside an
// autoincrement row id, stable across export/import and safe to expose
// to callers who should not depend on SQLite's rowid assignment.
func newUID() string {
	return uuid.NewString()
}
