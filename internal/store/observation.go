package store

import (
	"context"
	"fmt"
	"time"

	"github.com/noobynull/laminark/internal/logging"
)

// Observation is a single stored memory row: a raw capture from a hook,
// or a curated finding promoted out of the noise.
type Observation struct {
	ID                int64
	UID               string
	ProjectHash       string
	Content           string
	Title             string
	Source            string
	SessionID         string
	Kind              string
	Classification    string
	ClassifiedAt      *time.Time
	Embedding         []float32
	EmbeddingModel    string
	EmbeddingVersion  int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// ObservationInput is what callers provide to record a new observation;
// ID/UID/timestamps are assigned by the repository.
type ObservationInput struct {
	ProjectHash string
	Content     string
	Title       string
	Source      string
	SessionID   string
	Kind        string
}

// Record inserts a new observation. Embedding population is a separate
// step (see SetEmbedding) so that callers on the hot capture path never
// block on an embedder.
func (s *Store) Record(ctx context.Context, in ObservationInput) (*Observation, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Record")
	defer timer.Stop()

	if in.Content == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	if in.ProjectHash == "" {
		return nil, fmt.Errorf("%w: project_hash must not be empty", ErrValidation)
	}
	kind := in.Kind
	if kind == "" {
		kind = "change"
	}

	uid := newUID()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (uid, project_hash, content, title, source, session_id, kind)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uid, in.ProjectHash, in.Content, in.Title, in.Source, in.SessionID, kind)
	if err != nil {
		return nil, fmt.Errorf("insert observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read observation id: %w", err)
	}

	logging.StoreDebug("recorded observation id=%d source=%s kind=%s", id, in.Source, kind)
	return s.getByID(ctx, id)
}

// RecordClassified inserts a new observation that bypasses the curation
// queue entirely, stamping the given classification immediately. This is
// the path explicit user saves and document-ingestion callers use, since
// their content is already known-good and shouldn't wait on a curation
// batch to be promoted out of the unclassified pool.
func (s *Store) RecordClassified(ctx context.Context, in ObservationInput, classification string) (*Observation, error) {
	timer := logging.StartTimer(logging.CategoryStore, "RecordClassified")
	defer timer.Stop()

	if in.Content == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	if in.ProjectHash == "" {
		return nil, fmt.Errorf("%w: project_hash must not be empty", ErrValidation)
	}
	if classification == "" {
		return nil, fmt.Errorf("%w: classification must not be empty", ErrValidation)
	}
	kind := in.Kind
	if kind == "" {
		kind = "change"
	}

	uid := newUID()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (uid, project_hash, content, title, source, session_id, kind, classification, classified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		uid, in.ProjectHash, in.Content, in.Title, in.Source, in.SessionID, kind, classification)
	if err != nil {
		return nil, fmt.Errorf("insert classified observation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read observation id: %w", err)
	}

	logging.StoreDebug("recorded pre-classified observation id=%d source=%s classification=%s", id, in.Source, classification)
	return s.getByID(ctx, id)
}

// SetEmbedding attaches a dense vector to an existing observation and
// mirrors it into the vector index table when vector capability is
// available; either way the raw embedding bytes are stored in the
// observation's own embedding column.
func (s *Store) SetEmbedding(ctx context.Context, id int64, vec []float32, model string, version int) error {
	timer := logging.StartTimer(logging.CategoryStore, "SetEmbedding")
	defer timer.Stop()

	blob := encodeVector(vec)

	if _, err := s.db.ExecContext(ctx, `
		UPDATE observations SET embedding = ?, embedding_model = ?, embedding_version = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, blob, model, version, id); err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}

	if s.hasVec {
		var content, metaSource string
		if err := s.db.QueryRowContext(ctx, "SELECT content, source FROM observations WHERE id = ?", id).Scan(&content, &metaSource); err == nil {
			_, _ = s.db.ExecContext(ctx,
				"INSERT INTO observation_vectors (rowid, embedding, content, metadata) VALUES (?, ?, ?, ?)",
				id, blob, content, metaSource)
		}
	}

	return nil
}

// classificationNoise mirrors curation.ClassificationNoise. store cannot
// import the curation package (curation already imports store), so the
// value is duplicated here as the one classification that carries a
// repository-level side effect.
const classificationNoise = "noise"

// Classify records the curation pipeline's verdict for an observation.
// A verdict of "noise" also soft-deletes the row in the same call, so
// noise never remains readable through the default read paths and no
// caller of Classify can classify something noise and forget to hide
// it.
func (s *Store) Classify(ctx context.Context, id int64, classification string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE observations SET classification = ?, classified_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, classification, id)
	if err != nil {
		return fmt.Errorf("classify observation %d: %w", id, err)
	}

	if classification == classificationNoise {
		if _, err := s.db.ExecContext(ctx,
			"UPDATE observations SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL", id); err != nil {
			return fmt.Errorf("soft delete noise observation %d: %w", id, err)
		}
	}

	logging.CurationDebug("observation %d classified as %s", id, classification)
	return nil
}

// SoftDelete marks an observation deleted without removing the row,
// preserving it for audit/history purposes.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE observations SET deleted_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("soft delete observation %d: %w", id, err)
	}
	return nil
}

// GetByID fetches a single observation by its integer row id.
func (s *Store) GetByID(ctx context.Context, id int64) (*Observation, error) {
	return s.getByID(ctx, id)
}

func (s *Store) getByID(ctx context.Context, id int64) (*Observation, error) {
	row := s.db.QueryRowContext(ctx, observationSelect+" WHERE id = ? AND deleted_at IS NULL", id)
	obs, err := scanObservation(row)
	if err != nil {
		return nil, fmt.Errorf("%w: observation %d", ErrNotFound, id)
	}
	return obs, nil
}

// GetByIDIncludingDeleted fetches an observation by id regardless of
// soft-delete state, for restore paths that need to look at a row
// before deciding whether to bring it back.
func (s *Store) GetByIDIncludingDeleted(ctx context.Context, id int64) (*Observation, error) {
	row := s.db.QueryRowContext(ctx, observationSelect+" WHERE id = ?", id)
	obs, err := scanObservation(row)
	if err != nil {
		return nil, fmt.Errorf("%w: observation %d", ErrNotFound, id)
	}
	return obs, nil
}

// Restore clears an observation's soft-delete marker.
func (s *Store) Restore(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE observations SET deleted_at = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("restore observation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: observation %d", ErrNotFound, id)
	}
	logging.StoreDebug("restored observation %d", id)
	return nil
}

// ObservationUpdate carries the mutable fields a caller may patch via
// Update; a nil field is left untouched.
type ObservationUpdate struct {
	Content *string
	Title   *string
}

// Update applies a partial patch to an observation's content/title.
func (s *Store) Update(ctx context.Context, id int64, upd ObservationUpdate) error {
	if upd.Content == nil && upd.Title == nil {
		return nil
	}

	setClauses := "updated_at = CURRENT_TIMESTAMP"
	args := []interface{}{}
	if upd.Content != nil {
		if *upd.Content == "" {
			return fmt.Errorf("%w: content must not be empty", ErrValidation)
		}
		setClauses = "content = ?, " + setClauses
		args = append(args, *upd.Content)
	}
	if upd.Title != nil {
		setClauses = "title = ?, " + setClauses
		args = append(args, *upd.Title)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE observations SET %s WHERE id = ?", setClauses), args...)
	if err != nil {
		return fmt.Errorf("update observation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: observation %d", ErrNotFound, id)
	}
	return nil
}

// ListOptions filters a general observation listing; zero values are
// treated as "no filter" for that field.
type ListOptions struct {
	SessionID           string
	Since               time.Time
	Kind                string
	IncludeUnclassified bool
	Limit               int
}

// List returns observations in a project matching the given filters,
// newest first. Soft-deleted rows are always excluded.
func (s *Store) List(ctx context.Context, projectHash string, opts ListOptions) ([]*Observation, error) {
	timer := logging.StartTimer(logging.CategoryStore, "List")
	defer timer.Stop()

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query := observationSelect + " WHERE project_hash = ? AND deleted_at IS NULL"
	args := []interface{}{projectHash}

	if !opts.IncludeUnclassified {
		query += " AND classification IS NOT NULL"
	}
	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.Kind != "" {
		query += " AND kind = ?"
		args = append(args, opts.Kind)
	}
	if !opts.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, opts.Since)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// GetBySource lists non-deleted observations in a project whose source
// matches the given prefix (e.g. a file path or a tool name), newest
// first. An empty prefix matches every observation in the project.
func (s *Store) GetBySource(ctx context.Context, projectHash, sourcePrefix string, limit int) ([]*Observation, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetBySource")
	defer timer.Stop()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, observationSelect+`
		WHERE project_hash = ? AND source LIKE ? AND deleted_at IS NULL
		ORDER BY created_at DESC LIMIT ?`,
		projectHash, sourcePrefix+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("query by source: %w", err)
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			logging.StoreWarn("scan observation failed: %v", err)
			continue
		}
		out = append(out, obs)
	}
	logging.StoreDebug("get_by_source prefix=%q returned %d rows", sourcePrefix, len(out))
	return out, nil
}

// ListUnclassified returns observations awaiting a curation verdict,
// oldest first, for the curation pipeline's batch pass.
func (s *Store) ListUnclassified(ctx context.Context, projectHash string, limit int) ([]*Observation, error) {
	rows, err := s.db.QueryContext(ctx, observationSelect+`
		WHERE project_hash = ? AND classification IS NULL AND deleted_at IS NULL
		ORDER BY created_at ASC LIMIT ?`, projectHash, limit)
	if err != nil {
		return nil, fmt.Errorf("list unclassified: %w", err)
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// Count returns the non-deleted observation total for a project.
func (s *Store) Count(ctx context.Context, projectHash string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM observations WHERE project_hash = ? AND deleted_at IS NULL", projectHash).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

// GetByTitle does a case-insensitive substring match against title,
// optionally including soft-deleted rows.
func (s *Store) GetByTitle(ctx context.Context, projectHash, substring string, limit int, includePurged bool) ([]*Observation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := observationSelect + " WHERE project_hash = ? AND title LIKE ? COLLATE NOCASE"
	if !includePurged {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY created_at DESC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, projectHash, "%"+substring+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("get_by_title: %w", err)
	}
	defer rows.Close()

	var out []*Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

// ListContext returns up to window observations immediately before and
// window observations immediately after aroundTime (by created_at),
// regardless of classification or soft-delete — the context a curation
// prompt shows around a pending row.
func (s *Store) ListContext(ctx context.Context, projectHash string, aroundTime time.Time, window int) ([]*Observation, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListContext")
	defer timer.Stop()

	if window <= 0 {
		window = 5
	}

	before, err := s.db.QueryContext(ctx, observationSelect+`
		WHERE project_hash = ? AND created_at <= ? ORDER BY created_at DESC LIMIT ?`,
		projectHash, aroundTime, window)
	if err != nil {
		return nil, fmt.Errorf("list_context before: %w", err)
	}
	var out []*Observation
	for before.Next() {
		obs, err := scanObservation(before)
		if err != nil {
			continue
		}
		out = append(out, obs)
	}
	before.Close()

	after, err := s.db.QueryContext(ctx, observationSelect+`
		WHERE project_hash = ? AND created_at > ? ORDER BY created_at ASC LIMIT ?`,
		projectHash, aroundTime, window)
	if err != nil {
		return nil, fmt.Errorf("list_context after: %w", err)
	}
	defer after.Close()
	var afterRows []*Observation
	for after.Next() {
		obs, err := scanObservation(after)
		if err != nil {
			continue
		}
		afterRows = append(afterRows, obs)
	}

	// before was collected newest-first; restore chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	out = append(out, afterRows...)
	return out, nil
}

const observationSelect = `SELECT id, uid, project_hash, content, title, source, session_id, kind,
	COALESCE(classification, ''), classified_at, embedding,
	COALESCE(embedding_model, ''), COALESCE(embedding_version, 0),
	created_at, updated_at, deleted_at FROM observations`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanObservation(row rowScanner) (*Observation, error) {
	var o Observation
	var embedding []byte
	var classifiedAt, deletedAt *time.Time
	if err := row.Scan(&o.ID, &o.UID, &o.ProjectHash, &o.Content, &o.Title, &o.Source,
		&o.SessionID, &o.Kind, &o.Classification, &classifiedAt, &embedding,
		&o.EmbeddingModel, &o.EmbeddingVersion, &o.CreatedAt, &o.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	o.ClassifiedAt = classifiedAt
	o.DeletedAt = deletedAt
	if len(embedding) > 0 {
		if vec, err := decodeVector(embedding); err == nil {
			o.Embedding = vec
		}
	}
	return &o, nil
}
