// Package store implements laminark's SQLite-backed memory engine: the
// observation repository, hybrid lexical/vector search, the knowledge
// graph, topic-thread stashing, and the tool registry. One Store handle
// is shared by many projects, each scoped by project_hash.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/noobynull/laminark/internal/logging"
)

// defaultRequireVector is not read anywhere in the package; Open takes
// the require-vector setting from its requireVector argument.
var defaultRequireVector = false

// Store is the single SQLite handle laminark's service process and hook
// processes open. A single *sql.DB with MaxOpenConns(1) serializes writes
// within this process; WAL mode plus busy_timeout is what lets other
// processes' handles proceed without blocking on this one. There is
// deliberately no in-process mutex here: one would mask the very
// cross-process contention WAL and busy_timeout exist to serialize, and
// would do nothing for a second laminark process racing this one against
// the same file.
type Store struct {
	db       *sql.DB
	dbPath   string
	hasVec   bool // true if either sqlite-vec or the vec0 compat shim is usable
	required bool // fail Open() instead of degrading to lexical-only
}

// Open initializes (creating if necessary) the SQLite database at path,
// applies WAL-mode pragmas, runs pending migrations, and probes vector
// index availability.
func Open(path string, requireVector bool) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("opening store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY storms within this process;
	// WAL mode is what lets other processes still read/write concurrently.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreWarn("failed to apply %q: %v", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: path, required: requireVector}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s.hasVec = s.detectVectorCapability()
	if requireVector && !s.hasVec {
		db.Close()
		return nil, fmt.Errorf("vector capability required but unavailable (neither sqlite-vec nor the vec0 compat shim loaded)")
	}
	if s.hasVec {
		logging.Store("vector index capability available")
	} else {
		logging.StoreWarn("vector index capability unavailable; search will degrade to lexical-only")
	}

	logging.Store("store ready at %s", path)
	return s, nil
}

// detectVectorCapability probes whether a vec0 virtual table can be
// created on this connection, which is true whether the real sqlite-vec
// extension is loaded (cgo build) or the pure-Go compat shim registered
// itself against this driver.
func (s *Store) detectVectorCapability() bool {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding BLOB, content TEXT, metadata TEXT)"); err != nil {
		return false
	}
	_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	return true
}

// HasVectorCapability reports whether the vector pass of search can run
// at all.
func (s *Store) HasVectorCapability() bool {
	return s.hasVec
}

// DB returns the underlying connection, for packages (e.g. curation) that
// need to run ad hoc queries outside the repository methods.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	logging.Store("closing store")
	return s.db.Close()
}

// Checkpoint forces a WAL checkpoint, truncating the WAL file back to
// zero. The long-lived service calls this periodically; ephemeral hook
// processes never do, so they cannot race a checkpoint against the
// service's own writes beyond what SQLite's locking already serializes.
func (s *Store) Checkpoint() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// IntegrityCheck runs SQLite's built-in integrity check and reports the
// Corruption fatal error class when the database fails it.
func (s *Store) IntegrityCheck() error {
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity_check query failed: %w", err)
	}
	if result != "ok" {
		logging.StoreError("integrity_check failed: %s", result)
		return fmt.Errorf("%w: %s", ErrCorruption, result)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Conn, so the multi-
// statement helpers below can run against whichever one a transaction
// pins them to.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// withImmediateTx runs fn inside a SQL BEGIN IMMEDIATE transaction pinned
// to a single dedicated connection. BEGIN IMMEDIATE acquires the write
// lock up front rather than escalating from a read lock on first write,
// which is what a genuinely racy read-then-write sequence (e.g. find an
// existing row, insert if absent) needs to stay correct across two
// separate processes sharing this database file. database/sql's BeginTx
// has no way to express a transaction mode, and modernc.org/sqlite's
// BeginTx always opens DEFERRED, so the BEGIN/COMMIT/ROLLBACK here are
// issued as raw statements against a connection checked out of the pool
// for the duration of fn.
func withImmediateTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, conn queryer) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(ctx, conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}
