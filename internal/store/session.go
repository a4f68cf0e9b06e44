package store

import (
	"context"
	"fmt"
	"time"

	"github.com/noobynull/laminark/internal/logging"
)

// Session is one assistant conversation against a project, used to
// record when that conversation started and ended. The resume command
// does not read sessions.
type Session struct {
	ID          int64
	UID         string
	ProjectHash string
	StartedAt   time.Time
	EndedAt     *time.Time
	Summary     string
}

// StartSession opens a new session row for a project.
func (s *Store) StartSession(ctx context.Context, projectHash string) (*Session, error) {
	timer := logging.StartTimer(logging.CategoryStore, "StartSession")
	defer timer.Stop()

	uid := newUID()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (project_hash, uid) VALUES (?, ?)", projectHash, uid)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	logging.Store("session %d started (project=%s)", id, projectHash)
	return s.getSession(ctx, id)
}

// EndSession closes a session and records its summary.
func (s *Store) EndSession(ctx context.Context, id int64, summary string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET ended_at = CURRENT_TIMESTAMP, summary = ? WHERE id = ?", summary, id)
	if err != nil {
		return fmt.Errorf("end session %d: %w", id, err)
	}
	return nil
}

// RecentSessions lists the most recent sessions for a project,
// newest-started first.
func (s *Store) RecentSessions(ctx context.Context, projectHash string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uid, project_hash, started_at, ended_at, COALESCE(summary, '')
		FROM sessions WHERE project_hash = ? ORDER BY started_at DESC LIMIT ?`, projectHash, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		var endedAt *time.Time
		if err := rows.Scan(&sess.ID, &sess.UID, &sess.ProjectHash, &sess.StartedAt, &endedAt, &sess.Summary); err != nil {
			continue
		}
		sess.EndedAt = endedAt
		out = append(out, &sess)
	}
	return out, nil
}

func (s *Store) getSession(ctx context.Context, id int64) (*Session, error) {
	var sess Session
	var endedAt *time.Time
	err := s.db.QueryRowContext(ctx,
		"SELECT id, uid, project_hash, started_at, ended_at, COALESCE(summary, '') FROM sessions WHERE id = ?", id).
		Scan(&sess.ID, &sess.UID, &sess.ProjectHash, &sess.StartedAt, &endedAt, &sess.Summary)
	if err != nil {
		return nil, fmt.Errorf("%w: session %d", ErrNotFound, id)
	}
	sess.EndedAt = endedAt
	return &sess, nil
}
