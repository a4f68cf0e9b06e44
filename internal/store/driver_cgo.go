//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName is "sqlite3" (mattn/go-sqlite3, cgo) whenever cgo is
// available. Pairing this with the sqlite_vec build tag additionally
// registers the real sqlite-vec extension via init_vec.go; without that
// tag this driver still opens fine, it just falls back to the vec0
// compat shim's capability probe failing and search running lexical-only.
const driverName = "sqlite3"
