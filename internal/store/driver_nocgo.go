//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// driverName is "sqlite" (modernc.org/sqlite, pure Go) on builds without
// cgo. vec_compat.go's init() registers the vec0 virtual table and
// vector_distance_cos against this same driver, so vector capability is
// still available without a cgo toolchain, just backed by the in-memory
// compat shim instead of the real sqlite-vec extension.
const driverName = "sqlite"
