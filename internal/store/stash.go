package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noobynull/laminark/internal/logging"
)

// Thread is a named, status-tracked topic: an in-progress grouping of
// observations (active), a parked snapshot of one (stashed), or a
// previously-stashed topic the caller has resumed (resumed). Stashing
// and resuming never mutate the underlying observations; they freeze
// and replay a list of ids captured at stash time.
type Thread struct {
	ID                   int64
	UID                  string
	ProjectHash          string
	TopicLabel           string
	Summary              string
	Status               string
	ObservationSnapshots []int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

const (
	ThreadStatusActive  = "active"
	ThreadStatusStashed = "stashed"
	ThreadStatusResumed = "resumed"
)

// CreateThread starts a new active topic thread.
func (s *Store) CreateThread(ctx context.Context, projectHash, topicLabel string) (*Thread, error) {
	timer := logging.StartTimer(logging.CategoryStash, "CreateThread")
	defer timer.Stop()

	if topicLabel == "" {
		return nil, fmt.Errorf("%w: topic label must not be empty", ErrValidation)
	}

	uid := newUID()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO stash_threads (project_hash, uid, topic_label, status) VALUES (?, ?, ?, ?)",
		projectHash, uid, topicLabel, ThreadStatusActive)
	if err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	logging.StashDebug("created thread %d: %q", id, topicLabel)
	return s.getThread(ctx, id)
}

// AddToThread associates an observation with an active thread's
// working set — the pool that gets frozen into a snapshot on Stash.
func (s *Store) AddToThread(ctx context.Context, threadID, observationID int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO stash_items (thread_id, observation_id) VALUES (?, ?)",
		threadID, observationID)
	if err != nil {
		return fmt.Errorf("add to thread: %w", err)
	}
	return nil
}

// Stash freezes a thread's current working set into observation_snapshots
// and moves it to the stashed state, with an optional short summary.
func (s *Store) Stash(ctx context.Context, threadID int64, summary string) error {
	timer := logging.StartTimer(logging.CategoryStash, "Stash")
	defer timer.Stop()

	rows, err := s.db.QueryContext(ctx,
		"SELECT observation_id FROM stash_items WHERE thread_id = ? ORDER BY created_at ASC", threadID)
	if err != nil {
		return fmt.Errorf("load thread working set: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	rows.Close()

	snapshotJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE stash_threads SET status = ?, summary = ?, observation_snapshots = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, ThreadStatusStashed, summary, string(snapshotJSON), threadID)
	if err != nil {
		return fmt.Errorf("stash thread: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: thread %d", ErrNotFound, threadID)
	}
	logging.StashDebug("thread %d stashed with %d observations", threadID, len(ids))
	return nil
}

// Resume marks a stashed thread resumed and returns the observations
// captured in its snapshot, without mutating any observation or the
// thread's working set.
func (s *Store) Resume(ctx context.Context, threadID int64) ([]*Observation, error) {
	timer := logging.StartTimer(logging.CategoryStash, "Resume")
	defer timer.Stop()

	thread, err := s.getThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE stash_threads SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", ThreadStatusResumed, threadID)
	if err != nil {
		return nil, fmt.Errorf("resume thread: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: thread %d", ErrNotFound, threadID)
	}

	var out []*Observation
	for _, id := range thread.ObservationSnapshots {
		obs, err := s.GetByID(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, obs)
	}
	logging.StashDebug("thread %d resumed, %d/%d snapshot observations still present", threadID, len(out), len(thread.ObservationSnapshots))
	return out, nil
}

// ThreadObservations returns a thread's current working set (for active
// threads) by joining stash_items live.
func (s *Store) ThreadObservations(ctx context.Context, threadID int64) ([]*Observation, error) {
	rows, err := s.db.QueryContext(ctx, observationSelect+`
		JOIN stash_items si ON si.observation_id = observations.id
		WHERE si.thread_id = ? ORDER BY si.created_at ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("thread observations: %w", err)
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

// ListThreads returns threads in a project filtered by status; an
// empty status lists all threads regardless of state, most-recently
// updated first.
func (s *Store) ListThreads(ctx context.Context, projectHash, status string) ([]*Thread, error) {
	timer := logging.StartTimer(logging.CategoryStash, "ListThreads")
	defer timer.Stop()

	query := `SELECT id, uid, project_hash, topic_label, summary, status, observation_snapshots, created_at, updated_at
		FROM stash_threads WHERE project_hash = ?`
	args := []interface{}{projectHash}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []*Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	logging.StashDebug("list_threads status=%q returned %d", status, len(out))
	return out, nil
}

func (s *Store) getThread(ctx context.Context, id int64) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, uid, project_hash, topic_label, summary, status, observation_snapshots, created_at, updated_at
		FROM stash_threads WHERE id = ?`, id)
	t, err := scanThread(row)
	if err != nil {
		return nil, fmt.Errorf("%w: thread %d", ErrNotFound, id)
	}
	return t, nil
}

func scanThread(row rowScanner) (*Thread, error) {
	var t Thread
	var snapshotJSON string
	if err := row.Scan(&t.ID, &t.UID, &t.ProjectHash, &t.TopicLabel, &t.Summary, &t.Status, &snapshotJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(snapshotJSON), &t.ObservationSnapshots)
	return &t, nil
}
