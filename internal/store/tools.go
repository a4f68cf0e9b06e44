package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/noobynull/laminark/internal/logging"
)

const (
	ToolStatusActive  = "active"
	ToolStatusStale   = "stale"
	ToolStatusDemoted = "demoted"

	ToolScopeGlobal  = "global"
	ToolScopeProject = "project"
	ToolScopePlugin  = "plugin"
)

// ToolRecord tracks one tool's recall eligibility: how often it has
// been used, how recently, and whether it has been demoted out of the
// recall set or gone stale from disuse.
type ToolRecord struct {
	ID           int64
	ProjectHash  string
	Name         string
	ToolType     string
	Scope        string
	ServerName   string
	Description  string
	Status       string
	UsageCount   int
	LastUsedAt   *time.Time
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// ToolDescriptor is the caller-supplied identity of a tool, used both
// to register a new entry and to match an existing one.
type ToolDescriptor struct {
	Name        string
	ToolType    string
	Scope       string
	ServerName  string
	Description string
}

// RecordUsage is the registry's single entry point: it logs one
// invocation, bumps the usage counter, and demotes the tool when 3 of
// its last 5 recorded events failed. Any subsequent success restores a
// demoted tool to active, since the registry forgives a streak as soon
// as the tool proves itself again.
func (s *Store) RecordUsage(ctx context.Context, projectHash string, desc ToolDescriptor, success bool) error {
	timer := logging.StartTimer(logging.CategoryTools, "RecordUsage")
	defer timer.Stop()

	if desc.Name == "" {
		return fmt.Errorf("%w: tool name must not be empty", ErrValidation)
	}

	const failureWindow = 5
	const demotionThreshold = 3

	return withImmediateTx(ctx, s.db, func(ctx context.Context, conn queryer) error {
		toolID, err := ensureTool(ctx, conn, projectHash, desc)
		if err != nil {
			return err
		}

		if _, err := conn.ExecContext(ctx,
			"INSERT INTO tool_usage_events (tool_id, success) VALUES (?, ?)", toolID, success); err != nil {
			return fmt.Errorf("record usage event: %w", err)
		}

		if _, err := conn.ExecContext(ctx, `
			UPDATE tool_registry
			SET usage_count = usage_count + 1, last_used_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, toolID); err != nil {
			return fmt.Errorf("update tool tallies: %w", err)
		}

		recentFailures, err := recentFailureCount(ctx, conn, toolID, failureWindow)
		if err != nil {
			return err
		}
		if !success && recentFailures >= demotionThreshold {
			if _, err := conn.ExecContext(ctx,
				"UPDATE tool_registry SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status != ?",
				ToolStatusDemoted, toolID, ToolStatusDemoted); err != nil {
				return fmt.Errorf("demote tool: %w", err)
			}
			logging.ToolsDebug("tool %q demoted: %d/%d recent calls failed", desc.Name, recentFailures, failureWindow)
		} else if success {
			if _, err := conn.ExecContext(ctx,
				"UPDATE tool_registry SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?",
				ToolStatusActive, toolID, ToolStatusDemoted); err != nil {
				return fmt.Errorf("restore tool: %w", err)
			}
		}

		logging.ToolsDebug("recorded usage: tool=%s success=%v", desc.Name, success)
		return nil
	})
}

// ensureTool looks up a tool by (project_hash, name), registering it on
// first sight. Pinned inside RecordUsage's BEGIN IMMEDIATE transaction,
// the find-then-insert no longer races across two hook processes
// recording the same never-before-seen tool concurrently.
func ensureTool(ctx context.Context, conn queryer, projectHash string, desc ToolDescriptor) (int64, error) {
	var id int64
	err := conn.QueryRowContext(ctx,
		"SELECT id FROM tool_registry WHERE project_hash = ? AND name = ?", projectHash, desc.Name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup tool: %w", err)
	}

	toolType := desc.ToolType
	if toolType == "" {
		toolType = "unknown"
	}
	scope := desc.Scope
	if scope == "" {
		scope = ToolScopeProject
	}

	res, err := conn.ExecContext(ctx, `
		INSERT INTO tool_registry (project_hash, name, tool_type, scope, server_name, description, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		projectHash, desc.Name, toolType, scope, desc.ServerName, desc.Description, ToolStatusActive)
	if err != nil {
		return 0, fmt.Errorf("register tool: %w", err)
	}
	return res.LastInsertId()
}

func recentFailureCount(ctx context.Context, conn queryer, toolID int64, window int) (int, error) {
	if window <= 0 {
		window = 5
	}
	rows, err := conn.QueryContext(ctx,
		"SELECT success FROM tool_usage_events WHERE tool_id = ? ORDER BY created_at DESC LIMIT ?", toolID, window)
	if err != nil {
		return 0, fmt.Errorf("recent usage query: %w", err)
	}
	defer rows.Close()

	failures := 0
	for rows.Next() {
		var success bool
		if err := rows.Scan(&success); err != nil {
			continue
		}
		if !success {
			failures++
		}
	}
	return failures, nil
}

// MarkStale marks active tools in a project unused for staleDays as
// stale, so recall can deprioritize them without deleting their
// history. configuredNames, when non-empty, is the set of tool names
// the caller reports as currently available; any active or demoted tool
// whose name is absent from it is also marked stale regardless of
// last-use, since a tool that no longer exists can't be recalled.
func (s *Store) MarkStale(ctx context.Context, projectHash string, staleDays int, configuredNames []string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_registry SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE project_hash = ? AND status = ? AND (last_used_at IS NULL OR last_used_at < datetime('now', ?))`,
		ToolStatusStale, projectHash, ToolStatusActive, fmt.Sprintf("-%d days", staleDays))
	if err != nil {
		return 0, fmt.Errorf("mark stale: %w", err)
	}
	n, _ := res.RowsAffected()

	if len(configuredNames) > 0 {
		placeholders := make([]interface{}, 0, len(configuredNames)+2)
		placeholders = append(placeholders, projectHash)
		q := "SELECT id, name FROM tool_registry WHERE project_hash = ? AND status != ?"
		placeholders = append(placeholders, ToolStatusStale)
		rows, err := s.db.QueryContext(ctx, q, placeholders...)
		if err != nil {
			return n, fmt.Errorf("scan registered tools: %w", err)
		}
		configured := make(map[string]bool, len(configuredNames))
		for _, name := range configuredNames {
			configured[name] = true
		}
		var toMark []int64
		for rows.Next() {
			var id int64
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				continue
			}
			if !configured[name] {
				toMark = append(toMark, id)
			}
		}
		rows.Close()
		for _, id := range toMark {
			if _, err := s.db.ExecContext(ctx,
				"UPDATE tool_registry SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", ToolStatusStale, id); err == nil {
				n++
			}
		}
	}

	logging.ToolsDebug("marked %d tools stale (project=%s, >%d days idle)", n, projectHash, staleDays)
	return n, nil
}

// ListTools returns every registered tool in a project, most recently
// used first.
func (s *Store) ListTools(ctx context.Context, projectHash string) ([]*ToolRecord, error) {
	return s.listTools(ctx, projectHash)
}

func (s *Store) listTools(ctx context.Context, projectHash string) ([]*ToolRecord, error) {
	rows, err := s.db.QueryContext(ctx, toolSelect+
		" WHERE project_hash = ? ORDER BY last_used_at DESC NULLS LAST", projectHash)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var out []*ToolRecord
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// AvailableForSession returns every tool eligible for recall in a given
// project: globally-scoped tools, project-scoped tools belonging to this
// project, and plugin-scoped tools that are either project-less or tied
// to this project. Demoted tools are left out.
func (s *Store) AvailableForSession(ctx context.Context, projectHash string) ([]*ToolRecord, error) {
	rows, err := s.db.QueryContext(ctx, toolSelect+`
		WHERE (scope = ?
			OR (scope = ? AND project_hash = ?)
			OR (scope = ? AND (project_hash IS NULL OR project_hash = ?)))
			AND status != ?
		ORDER BY last_used_at DESC NULLS LAST`,
		ToolScopeGlobal, ToolScopeProject, projectHash, ToolScopePlugin, projectHash, ToolStatusDemoted)
	if err != nil {
		return nil, fmt.Errorf("available for session: %w", err)
	}
	defer rows.Close()

	var out []*ToolRecord
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

const toolSelect = `SELECT id, project_hash, name, tool_type, scope, COALESCE(server_name, ''), COALESCE(description, ''),
	status, usage_count, last_used_at, discovered_at, updated_at FROM tool_registry`

func scanTool(row rowScanner) (*ToolRecord, error) {
	var t ToolRecord
	var lastUsed *time.Time
	if err := row.Scan(&t.ID, &t.ProjectHash, &t.Name, &t.ToolType, &t.Scope, &t.ServerName, &t.Description,
		&t.Status, &t.UsageCount, &lastUsed, &t.DiscoveredAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.LastUsedAt = lastUsed
	return &t, nil
}

func (s *Store) getToolByID(ctx context.Context, id int64) (*ToolRecord, error) {
	row := s.db.QueryRowContext(ctx, toolSelect+" WHERE id = ?", id)
	t, err := scanTool(row)
	if err != nil {
		return nil, fmt.Errorf("%w: tool %d", ErrNotFound, id)
	}
	return t, nil
}

// ToolSearchResult is one fused tool hit: a registry entry plus its RRF
// score against the query.
type ToolSearchResult struct {
	Tool       *ToolRecord
	FusedScore float64
}

// SearchTools mirrors Search's hybrid recall pass but over the tool
// registry: lexical BM25 over (name, description) with name weighted 2x
// description, fused with an optional dense pass via reciprocal rank
// fusion when vector capability is available. Results span a project's
// own tools plus project-less (global) registrations.
func (s *Store) SearchTools(ctx context.Context, projectHash, query string, queryVec []float32, limit int) ([]*ToolSearchResult, error) {
	timer := logging.StartTimer(logging.CategoryTools, "SearchTools")
	defer timer.Stop()

	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrValidation)
	}
	if limit <= 0 {
		limit = 10
	}
	candidateLimit := limit * 4

	lexical, err := s.toolLexicalPass(ctx, projectHash, query, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("tool lexical pass: %w", err)
	}

	var vector []rankedHit
	if s.hasVec && len(queryVec) > 0 {
		vector, err = s.toolVectorPass(ctx, projectHash, queryVec, candidateLimit)
		if err != nil {
			logging.ToolsDebug("tool vector pass failed, continuing lexical-only: %v", err)
			vector = nil
		}
	}

	fused := fuseRRF(lexical, vector, 60)

	results := make([]*ToolSearchResult, 0, len(fused))
	for _, hit := range fused {
		if len(results) >= limit {
			break
		}
		tool, err := s.getToolByID(ctx, hit.id)
		if err != nil {
			continue
		}
		results = append(results, &ToolSearchResult{Tool: tool, FusedScore: hit.score})
	}
	return results, nil
}

func (s *Store) toolLexicalPass(ctx context.Context, projectHash, query string, limit int) ([]rankedHit, error) {
	sqlText := fmt.Sprintf(`
		SELECT t.id
		FROM tool_registry_fts
		JOIN tool_registry t ON t.id = tool_registry_fts.rowid
		WHERE tool_registry_fts MATCH ? AND (t.project_hash = ? OR t.project_hash IS NULL)
		ORDER BY bm25(tool_registry_fts%s)
		LIMIT ?`, toolBM25WeightClause())

	rows, err := s.db.QueryContext(ctx, sqlText, escapeFTSQuery(query), projectHash, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []rankedHit
	rank := 1
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		hits = append(hits, rankedHit{id: id, rank: rank})
		rank++
	}
	return hits, nil
}

func (s *Store) toolVectorPass(ctx context.Context, projectHash string, queryVec []float32, limit int) ([]rankedHit, error) {
	blob := encodeVector(queryVec)
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id FROM tool_vectors v
		JOIN tool_registry t ON t.id = v.rowid
		WHERE t.project_hash = ? OR t.project_hash IS NULL
		ORDER BY vector_distance_cos(v.embedding, ?)
		LIMIT ?`, projectHash, blob, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []rankedHit
	rank := 1
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		hits = append(hits, rankedHit{id: id, rank: rank})
		rank++
	}
	return hits, nil
}

// toolBM25WeightClause weights the tool_registry_fts name column 2x the
// description column, tracking toolFtsColumns rather than a hardcoded
// position.
func toolBM25WeightClause() string {
	weights := make([]string, len(toolFtsColumns))
	for i, c := range toolFtsColumns {
		switch c {
		case "name":
			weights[i] = "2.0"
		default:
			weights[i] = "1.0"
		}
	}
	return ", " + strings.Join(weights, ", ")
}

// SetToolEmbedding attaches a dense vector to a registered tool's
// description and mirrors it into the tool vector index when vector
// capability is available.
func (s *Store) SetToolEmbedding(ctx context.Context, id int64, vec []float32, model string) error {
	blob := encodeVector(vec)

	if _, err := s.db.ExecContext(ctx, `
		UPDATE tool_registry SET embedding = ?, embedding_model = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, blob, model, id); err != nil {
		return fmt.Errorf("update tool embedding: %w", err)
	}

	if s.hasVec {
		var name string
		if err := s.db.QueryRowContext(ctx, "SELECT name FROM tool_registry WHERE id = ?", id).Scan(&name); err == nil {
			_, _ = s.db.ExecContext(ctx,
				"INSERT INTO tool_vectors (rowid, embedding, name) VALUES (?, ?, ?)", id, blob, name)
		}
	}
	return nil
}

// RankedTool pairs a tool record with its recall-ranking score.
type RankedTool struct {
	Tool  *ToolRecord
	Score float64
}

// RankTools scores every registered tool in a project for recall
// ordering: score = 0.7*norm(frequency) + 0.3*recency, where frequency
// is usage_count normalized against the most-used tool in the project
// and recency = exp(-ln(2)*age_days/7) (a one-week half-life).
// Penalties stack multiplicatively: x0.25 if the tool isn't active,
// x0.5 if it hasn't been used in over 30 days. Results are sorted
// highest score first.
func (s *Store) RankTools(ctx context.Context, projectHash string) ([]RankedTool, error) {
	tools, err := s.listTools(ctx, projectHash)
	if err != nil {
		return nil, err
	}
	if len(tools) == 0 {
		return nil, nil
	}

	maxUsage := 0
	for _, t := range tools {
		if t.UsageCount > maxUsage {
			maxUsage = t.UsageCount
		}
	}
	if maxUsage == 0 {
		maxUsage = 1
	}

	now := time.Now()
	ranked := make([]RankedTool, 0, len(tools))
	for _, t := range tools {
		frequency := float64(t.UsageCount) / float64(maxUsage)

		ageDays := 0.0
		if t.LastUsedAt != nil {
			ageDays = now.Sub(*t.LastUsedAt).Hours() / 24
		} else {
			ageDays = now.Sub(t.DiscoveredAt).Hours() / 24
		}
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-math.Ln2 * ageDays / 7)

		score := 0.7*frequency + 0.3*recency
		if t.Status != ToolStatusActive {
			score *= 0.25
		}
		if ageDays > 30 {
			score *= 0.5
		}
		ranked = append(ranked, RankedTool{Tool: t, Score: score})
	}

	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].Score > ranked[j-1].Score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	return ranked, nil
}
