// This file implements laminark's versioned schema migration system: each
// numbered migration is idempotent (guarded by PRAGMA table_info/sqlite_master
// existence checks), so RunMigrations is safe to call against a brand-new
// database file or one left behind by an older laminark build.
package store

import (
	"database/sql"
	"fmt"

	"github.com/noobynull/laminark/internal/logging"
)

// CurrentSchemaVersion tracks the highest migration this build knows
// about. v1: base tables (observations, knowledge graph, stash, tool
// registry, sessions). v2: observations_fts external-content index. v3:
// vec0 vector index (best-effort, tolerant of a missing extension). v4:
// observations_fts rebuilt with a source column appended after title
// (content stays at index 0, title at 1) — a layout change every
// search-layer caller must track rather than hardcode. v5: tool_registry_fts
// external-content index over (name, description), plus an optional
// tool_vectors vec0 table for a dense pass over tool descriptions.
const CurrentSchemaVersion = 5

// ftsColumns describes the current observations_fts column layout so
// search.go can compute snippet()/bm25() column indexes and the bm25()
// weight list without hardcoding the column count that migration 4 changed.
var ftsColumns = []string{"content", "title"}

// toolFtsColumns mirrors ftsColumns but for tool_registry_fts(name,
// description), added in migration 5.
var toolFtsColumns = []string{"name", "description"}

// RunMigrations brings db up to CurrentSchemaVersion, in order.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	current := GetSchemaVersion(db)
	logging.Store("running migrations: current=v%d target=v%d", current, CurrentSchemaVersion)

	for v := current; v < CurrentSchemaVersion; v++ {
		next := v + 1
		var err error
		switch next {
		case 1:
			err = migrateV0ToV1(db)
		case 2:
			err = migrateV1ToV2(db)
		case 3:
			err = migrateV2ToV3(db)
		case 4:
			err = migrateV3ToV4(db)
		case 5:
			err = migrateV4ToV5(db)
		default:
			err = fmt.Errorf("no migration defined for v%d -> v%d", v, next)
		}
		if err != nil {
			return fmt.Errorf("migration v%d -> v%d failed: %w", v, next, err)
		}
		if err := SetSchemaVersion(db, next); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", next, err)
		}
		logging.Store("migration v%d -> v%d applied", v, next)
	}

	// ftsColumns reflects whatever the database actually has on disk,
	// which may be ahead of a fresh in-memory default if this process
	// attached to a database a newer laminark build already migrated.
	if columnExistsFTS(db, "observations_fts", "source") {
		ftsColumns = []string{"content", "title", "source"}
	}

	return nil
}

func migrateV0ToV1(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uid TEXT NOT NULL UNIQUE,
			project_hash TEXT NOT NULL,
			content TEXT NOT NULL,
			title TEXT,
			source TEXT,
			session_id TEXT,
			kind TEXT NOT NULL DEFAULT 'change',
			classification TEXT,
			classified_at DATETIME,
			embedding BLOB,
			embedding_model TEXT,
			embedding_version INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			deleted_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_project ON observations(project_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_classification ON observations(project_hash, classification)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_source ON observations(project_hash, source)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(project_hash, session_id)`,

		`CREATE TABLE IF NOT EXISTS knowledge_nodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_hash TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			aliases TEXT DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(project_hash, name, type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_project ON knowledge_nodes(project_hash)`,

		`CREATE TABLE IF NOT EXISTS knowledge_edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_hash TEXT NOT NULL,
			source_id INTEGER NOT NULL REFERENCES knowledge_nodes(id),
			target_id INTEGER NOT NULL REFERENCES knowledge_nodes(id),
			relation TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			metadata TEXT DEFAULT '{}',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(project_hash, source_id, relation, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON knowledge_edges(project_hash, source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON knowledge_edges(project_hash, target_id)`,

		`CREATE TABLE IF NOT EXISTS stash_threads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_hash TEXT NOT NULL,
			uid TEXT NOT NULL UNIQUE,
			topic_label TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			observation_snapshots TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_project_status ON stash_threads(project_hash, status)`,

		`CREATE TABLE IF NOT EXISTS stash_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id INTEGER NOT NULL REFERENCES stash_threads(id),
			observation_id INTEGER NOT NULL REFERENCES observations(id),
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(thread_id, observation_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stash_items_thread ON stash_items(thread_id)`,

		`CREATE TABLE IF NOT EXISTS tool_registry (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_hash TEXT,
			name TEXT NOT NULL,
			tool_type TEXT NOT NULL DEFAULT 'unknown',
			scope TEXT NOT NULL DEFAULT 'project',
			server_name TEXT,
			description TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			usage_count INTEGER NOT NULL DEFAULT 0,
			last_used_at DATETIME,
			discovered_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(project_hash, name)
		)`,

		`CREATE TABLE IF NOT EXISTS tool_usage_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_id INTEGER NOT NULL REFERENCES tool_registry(id),
			success BOOLEAN NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_tool ON tool_usage_events(tool_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_hash TEXT NOT NULL,
			uid TEXT NOT NULL UNIQUE,
			started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			summary TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_hash)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// migrateV1ToV2 creates the external-content FTS5 index mirroring
// observations(content, title), kept consistent via triggers rather than
// application-level dual writes.
func migrateV1ToV2(db *sql.DB) error {
	if tableExists(db, "observations_fts") {
		return nil
	}
	stmts := []string{
		`CREATE VIRTUAL TABLE observations_fts USING fts5(
			content, title,
			content='observations', content_rowid='id',
			tokenize='porter unicode61'
		)`,
		`INSERT INTO observations_fts(rowid, content, title) SELECT id, content, title FROM observations`,
		`CREATE TRIGGER observations_ai AFTER INSERT ON observations BEGIN
			INSERT INTO observations_fts(rowid, content, title) VALUES (new.id, new.content, new.title);
		END`,
		`CREATE TRIGGER observations_ad AFTER DELETE ON observations BEGIN
			INSERT INTO observations_fts(observations_fts, rowid, content, title) VALUES ('delete', old.id, old.content, old.title);
		END`,
		`CREATE TRIGGER observations_au AFTER UPDATE ON observations BEGIN
			INSERT INTO observations_fts(observations_fts, rowid, content, title) VALUES ('delete', old.id, old.content, old.title);
			INSERT INTO observations_fts(rowid, content, title) VALUES (new.id, new.content, new.title);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("fts5 setup: %w", err)
		}
	}
	return nil
}

// migrateV2ToV3 creates the vec0 vector index, tolerant of the extension
// being unavailable — the vector pass degrades gracefully, it does not
// block the rest of the schema from migrating.
func migrateV2ToV3(db *sql.DB) error {
	if tableExists(db, "observation_vectors") {
		return nil
	}
	_, err := db.Exec(`CREATE VIRTUAL TABLE observation_vectors USING vec0(
		embedding BLOB,
		content TEXT,
		metadata TEXT
	)`)
	if err != nil {
		logging.StoreWarn("vector index creation failed, continuing without ANN search: %v", err)
		return nil
	}
	return nil
}

// migrateV3ToV4 rebuilds observations_fts with an added `source` column.
// This is the migration boundary: the column goes after `title`, so
// `content` stays at FTS column index 0 and `title` at 1, but the table
// grows from two columns to three. A bm25() call that hardcodes the old
// two-entry weight list no longer matches the table, so search.go always
// derives indexes and weights from ftsColumns rather than literals.
func migrateV3ToV4(db *sql.DB) error {
	if columnExistsFTS(db, "observations_fts", "source") {
		ftsColumns = []string{"content", "title", "source"}
		return nil
	}

	stmts := []string{
		`DROP TRIGGER IF EXISTS observations_ai`,
		`DROP TRIGGER IF EXISTS observations_ad`,
		`DROP TRIGGER IF EXISTS observations_au`,
		`DROP TABLE IF EXISTS observations_fts`,
		`CREATE VIRTUAL TABLE observations_fts USING fts5(
			content, title, source,
			content='observations', content_rowid='id',
			tokenize='porter unicode61'
		)`,
		`INSERT INTO observations_fts(rowid, content, title, source) SELECT id, content, title, source FROM observations`,
		`CREATE TRIGGER observations_ai AFTER INSERT ON observations BEGIN
			INSERT INTO observations_fts(rowid, content, title, source) VALUES (new.id, new.content, new.title, new.source);
		END`,
		`CREATE TRIGGER observations_ad AFTER DELETE ON observations BEGIN
			INSERT INTO observations_fts(observations_fts, rowid, content, title, source) VALUES ('delete', old.id, old.content, old.title, old.source);
		END`,
		`CREATE TRIGGER observations_au AFTER UPDATE ON observations BEGIN
			INSERT INTO observations_fts(observations_fts, rowid, content, title, source) VALUES ('delete', old.id, old.content, old.title, old.source);
			INSERT INTO observations_fts(rowid, content, title, source) VALUES (new.id, new.content, new.title, new.source);
		END`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("fts5 rebuild: %w", err)
		}
	}
	ftsColumns = []string{"content", "title", "source"}
	return nil
}

// migrateV4ToV5 adds hybrid search capability to the tool registry: an
// external-content FTS5 index over (name, description), kept consistent
// via triggers like observations_fts, plus embedding columns and a best-
// effort vec0 table so recall can fuse a dense pass the same way Search
// does for observations.
func migrateV4ToV5(db *sql.DB) error {
	if !columnExists(db, "tool_registry", "embedding") {
		stmts := []string{
			`ALTER TABLE tool_registry ADD COLUMN embedding BLOB`,
			`ALTER TABLE tool_registry ADD COLUMN embedding_model TEXT`,
		}
		for _, stmt := range stmts {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("tool_registry embedding columns: %w", err)
			}
		}
	}

	if !tableExists(db, "tool_registry_fts") {
		stmts := []string{
			`CREATE VIRTUAL TABLE tool_registry_fts USING fts5(
				name, description,
				content='tool_registry', content_rowid='id',
				tokenize='porter unicode61'
			)`,
			`INSERT INTO tool_registry_fts(rowid, name, description) SELECT id, name, COALESCE(description, '') FROM tool_registry`,
			`CREATE TRIGGER tool_registry_ai AFTER INSERT ON tool_registry BEGIN
				INSERT INTO tool_registry_fts(rowid, name, description) VALUES (new.id, new.name, COALESCE(new.description, ''));
			END`,
			`CREATE TRIGGER tool_registry_ad AFTER DELETE ON tool_registry BEGIN
				INSERT INTO tool_registry_fts(tool_registry_fts, rowid, name, description) VALUES ('delete', old.id, old.name, COALESCE(old.description, ''));
			END`,
			`CREATE TRIGGER tool_registry_au AFTER UPDATE ON tool_registry BEGIN
				INSERT INTO tool_registry_fts(tool_registry_fts, rowid, name, description) VALUES ('delete', old.id, old.name, COALESCE(old.description, ''));
				INSERT INTO tool_registry_fts(rowid, name, description) VALUES (new.id, new.name, COALESCE(new.description, ''));
			END`,
		}
		for _, stmt := range stmts {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("tool_registry_fts setup: %w", err)
			}
		}
	}

	if !tableExists(db, "tool_vectors") {
		_, err := db.Exec(`CREATE VIRTUAL TABLE tool_vectors USING vec0(
			embedding BLOB,
			name TEXT
		)`)
		if err != nil {
			logging.StoreWarn("tool vector index creation failed, continuing without dense tool search: %v", err)
		}
	}

	return nil
}

// columnExistsFTS checks whether an FTS5 table currently exposes a given
// column by inspecting its declared create statement in sqlite_master,
// since PRAGMA table_info does not enumerate FTS5 virtual columns.
func columnExistsFTS(db *sql.DB, table, column string) bool {
	var sqlText string
	err := db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&sqlText)
	if err != nil {
		return false
	}
	return containsWord(sqlText, column)
}

func containsWord(haystack, word string) bool {
	for i := 0; i+len(word) <= len(haystack); i++ {
		if haystack[i:i+len(word)] == word {
			return true
		}
	}
	return false
}

// columnExists checks if a column exists in a regular table via PRAGMA
// table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks if a table (or virtual table) exists.
func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// GetSchemaVersion returns the current schema version, inferring it from
// table structure when no schema_versions row exists yet (a brand-new
// database).
func GetSchemaVersion(db *sql.DB) int {
	if tableExists(db, "schema_versions") {
		var version int
		err := db.QueryRow("SELECT version FROM schema_versions ORDER BY applied_at DESC, id DESC LIMIT 1").Scan(&version)
		if err == nil {
			return version
		}
	}
	return inferSchemaVersion(db)
}

func inferSchemaVersion(db *sql.DB) int {
	if !tableExists(db, "observations") {
		return 0
	}
	if tableExists(db, "tool_registry_fts") {
		return 5
	}
	if columnExistsFTS(db, "observations_fts", "source") {
		return 4
	}
	if tableExists(db, "observation_vectors") {
		return 3
	}
	if tableExists(db, "observations_fts") {
		return 2
	}
	return 1
}

// SetSchemaVersion records a new schema version.
func SetSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return err
	}
	_, err := db.Exec("INSERT INTO schema_versions (version) VALUES (?)", version)
	return err
}
