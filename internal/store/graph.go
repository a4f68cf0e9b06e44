package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/noobynull/laminark/internal/logging"
)

// GraphNode is a named entity in the knowledge graph: a file, concept,
// person, or tool the curation pipeline has extracted from observations.
type GraphNode struct {
	ID          int64
	ProjectHash string
	Name        string
	Type        string
	Aliases     []string

	// MergeReason names the dedup strategy that matched an existing node
	// on this UpsertNode call ("Exact match", "Path suffix match", ...),
	// or "" for a brand-new node. It is populated only on the value
	// UpsertNode returns, never on rows read back later, since it
	// describes a single call's outcome rather than stored state.
	MergeReason string
}

// GraphEdge is a directed, weighted relation between two nodes.
type GraphEdge struct {
	ID          int64
	ProjectHash string
	SourceID    int64
	TargetID    int64
	Relation    string
	Weight      float64
	Metadata    map[string]interface{}
}

// UpsertNode finds or creates a node by (project_hash, name, type),
// running a multi-strategy fuzzy match against existing nodes first so
// that "Auth" and "auth", "db" and "database", or "paginator" and
// "paginatr" collapse onto one node
// instead of forking the graph every time an extractor phrases an
// entity slightly differently.
func (s *Store) UpsertNode(ctx context.Context, projectHash, name, nodeType string) (*GraphNode, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "UpsertNode")
	defer timer.Stop()

	if name == "" || nodeType == "" {
		return nil, fmt.Errorf("%w: node name and type must not be empty", ErrValidation)
	}

	var result *GraphNode
	err := withImmediateTx(ctx, s.db, func(ctx context.Context, conn queryer) error {
		existing, reason, err := findMatchingNode(ctx, conn, projectHash, name, nodeType)
		if err != nil {
			return err
		}
		if existing != nil {
			if !containsFold(existing.Aliases, name) && !strings.EqualFold(existing.Name, name) {
				existing.Aliases = append(existing.Aliases, name)
				if err := saveAliases(ctx, conn, existing); err != nil {
					return err
				}
				logging.GraphDebug("node %d (%s) gained alias %q", existing.ID, existing.Name, name)
			}
			existing.MergeReason = reason
			result = existing
			return nil
		}

		aliasesJSON, _ := json.Marshal([]string{})
		res, err := conn.ExecContext(ctx, `
			INSERT INTO knowledge_nodes (project_hash, name, type, aliases) VALUES (?, ?, ?, ?)`,
			projectHash, name, nodeType, string(aliasesJSON))
		if err != nil {
			return fmt.Errorf("insert node: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		logging.GraphDebug("created node %d: %s (%s)", id, name, nodeType)
		result = &GraphNode{ID: id, ProjectHash: projectHash, Name: name, Type: nodeType}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// findMatchingNode applies, in order: exact name match, case-fold match,
// alias-list membership, normalized-punctuation match, a
// canonicalization-dictionary match, a path-suffix match (File nodes
// only), and finally a fuzzy pass combining Levenshtein distance and
// Jaccard similarity over tokenized names. The first matching strategy
// wins; its name is returned alongside the matched node so callers can
// surface why two names collapsed onto one entity.
func findMatchingNode(ctx context.Context, conn queryer, projectHash, name, nodeType string) (*GraphNode, string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT id, name, type, aliases FROM knowledge_nodes WHERE project_hash = ? AND type = ?",
		projectHash, nodeType)
	if err != nil {
		return nil, "", fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var candidates []*GraphNode
	for rows.Next() {
		var n GraphNode
		var aliasesJSON string
		if err := rows.Scan(&n.ID, &n.Name, &n.Type, &aliasesJSON); err != nil {
			continue
		}
		n.ProjectHash = projectHash
		_ = json.Unmarshal([]byte(aliasesJSON), &n.Aliases)
		candidates = append(candidates, &n)
	}

	normalized := normalizeEntityName(name)
	isFile := strings.EqualFold(nodeType, "file")
	var best *GraphNode
	bestScore := 0.0
	for _, c := range candidates {
		// Strategy 1: exact match.
		if c.Name == name {
			return c, "Exact match", nil
		}
		// Strategy 2: case-insensitive match.
		if strings.EqualFold(c.Name, name) {
			return c, "Case-insensitive match", nil
		}
		// Strategy 3: alias-list membership.
		if containsFold(c.Aliases, name) {
			return c, "Alias match", nil
		}
		// Strategy 4: punctuation/whitespace-normalized match.
		if normalizeEntityName(c.Name) == normalized {
			return c, "Normalized match", nil
		}
		// Strategy 5: canonicalization dictionary (db/database, js/javascript, ...).
		if canonicalize(c.Name) == canonicalize(name) {
			return c, "Canonical alias match", nil
		}
		// Strategy 6: path suffix (File nodes only) — "a" ends with "/b"
		// or vice versa, e.g. src/graph/types.ts and graph/types.ts name
		// the same file seen from different root depths.
		if isFile && pathSuffixMatch(c.Name, name) {
			return c, "Path suffix match", nil
		}
		// Strategy 7: fuzzy — Levenshtein distance (short, similar-length
		// strings) or Jaccard similarity over tokenized names.
		if fuzzyNameMatch(c.Name, name) {
			score := 1.0
			if score > bestScore {
				bestScore = score
				best = c
			}
		}
	}
	if best != nil {
		logging.GraphDebug("fuzzy-matched %q to existing node %q", name, best.Name)
		return best, "Fuzzy match", nil
	}
	return nil, "", nil
}

// pathSuffixMatch reports whether one path is a directory-aligned suffix
// of the other after normalizing separators, e.g. "src/graph/types.ts"
// against "graph/types.ts". Two identical normalized paths are not a
// suffix match — that is strategy 1's job — only a genuine depth
// difference counts here.
func pathSuffixMatch(a, b string) bool {
	na, nb := normalizePathForSuffix(a), normalizePathForSuffix(b)
	if na == nb || na == "" || nb == "" {
		return false
	}
	return strings.HasSuffix(na, "/"+nb) || strings.HasSuffix(nb, "/"+na)
}

func normalizePathForSuffix(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return strings.Trim(p, "/")
}

// fuzzyNameMatch implements the graph's fuzzy dedup step: Levenshtein
// distance <= 2 when both strings are short and of similar length, or
// Jaccard similarity >= 0.7 over tokens (split on /._- and whitespace)
// when both names have at least two tokens. Either condition is enough
// to call two names the same entity.
func fuzzyNameMatch(a, b string) bool {
	al, bl := strings.ToLower(a), strings.ToLower(b)

	if isShortAndSimilarLength(al, bl) && levenshteinDistance(al, bl) <= 2 {
		return true
	}

	aTokens, bTokens := tokenizeEntityName(al), tokenizeEntityName(bl)
	if len(aTokens) >= 2 && len(bTokens) >= 2 {
		if jaccardSimilarity(aTokens, bTokens) >= 0.7 {
			return true
		}
	}
	return false
}

func isShortAndSimilarLength(a, b string) bool {
	const maxLen = 24
	if len(a) > maxLen || len(b) > maxLen {
		return false
	}
	diff := len(a) - len(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= 3
}

// tokenizeEntityName splits a name on common separators (/._- and
// whitespace) into a lowercased token set.
func tokenizeEntityName(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '/', '.', '_', '-', ' ', '\t':
			return true
		default:
			return false
		}
	})
	return fields
}

func jaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// levenshteinDistance computes single-character edit distance between
// two strings using a two-row dynamic-programming table.
func levenshteinDistance(a, b string) int {
	ar, br := []rune(a), []rune(b)
	if len(ar) == 0 {
		return len(br)
	}
	if len(br) == 0 {
		return len(ar)
	}

	prev := make([]int, len(br)+1)
	curr := make([]int, len(br)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= len(br); j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(br)]
}

func saveAliases(ctx context.Context, conn queryer, n *GraphNode) error {
	aliasesJSON, err := json.Marshal(n.Aliases)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, "UPDATE knowledge_nodes SET aliases = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(aliasesJSON), n.ID)
	return err
}

// LinkNodes records (or reweights, if the edge already exists) a
// directed relation between two nodes.
func (s *Store) LinkNodes(ctx context.Context, projectHash string, sourceID, targetID int64, relation string, weight float64, metadata map[string]interface{}) error {
	timer := logging.StartTimer(logging.CategoryGraph, "LinkNodes")
	defer timer.Stop()

	if relation == "" {
		return fmt.Errorf("%w: relation must not be empty", ErrValidation)
	}
	if math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("%w: edge weight must be finite", ErrValidation)
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal edge metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO knowledge_edges (project_hash, source_id, target_id, relation, weight, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_hash, source_id, relation, target_id) DO UPDATE SET weight = excluded.weight, metadata = excluded.metadata`,
		projectHash, sourceID, targetID, relation, weight, string(metaJSON))
	if err != nil {
		return fmt.Errorf("link nodes: %w", err)
	}
	logging.GraphDebug("linked %d -[%s]-> %d (weight=%.2f)", sourceID, relation, targetID, weight)
	return nil
}

// Neighbors returns edges touching a node in the given direction:
// "out", "in", or "both".
func (s *Store) Neighbors(ctx context.Context, nodeID int64, direction string) ([]*GraphEdge, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "Neighbors")
	defer timer.Stop()
	return s.neighbors(ctx, nodeID, direction)
}

func (s *Store) neighbors(ctx context.Context, nodeID int64, direction string) ([]*GraphEdge, error) {
	var query string
	var args []interface{}
	switch direction {
	case "out":
		query = "SELECT id, project_hash, source_id, target_id, relation, weight, metadata FROM knowledge_edges WHERE source_id = ?"
		args = []interface{}{nodeID}
	case "in":
		query = "SELECT id, project_hash, source_id, target_id, relation, weight, metadata FROM knowledge_edges WHERE target_id = ?"
		args = []interface{}{nodeID}
	default:
		query = "SELECT id, project_hash, source_id, target_id, relation, weight, metadata FROM knowledge_edges WHERE source_id = ? OR target_id = ?"
		args = []interface{}{nodeID, nodeID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []*GraphEdge
	for rows.Next() {
		var e GraphEdge
		var metaJSON string
		if err := rows.Scan(&e.ID, &e.ProjectHash, &e.SourceID, &e.TargetID, &e.Relation, &e.Weight, &metaJSON); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(metaJSON), &e.Metadata)
		edges = append(edges, &e)
	}
	return edges, nil
}

// TraversePath finds a shortest directed path between two nodes via BFS,
// bounded by maxDepth hops.
func (s *Store) TraversePath(ctx context.Context, fromID, toID int64, maxDepth int) ([]*GraphEdge, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "TraversePath")
	defer timer.Stop()

	if maxDepth <= 0 {
		maxDepth = 5
	}

	type queueItem struct {
		node  int64
		depth int
	}
	cameFrom := make(map[int64]*GraphEdge)
	cameFrom[fromID] = nil
	queue := []queueItem{{node: fromID, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.node == toID {
			path := make([]*GraphEdge, cur.depth)
			at := toID
			for i := cur.depth - 1; i >= 0; i-- {
				edge := cameFrom[at]
				if edge == nil {
					break
				}
				path[i] = edge
				at = edge.SourceID
			}
			return path, nil
		}
		if cur.depth >= maxDepth {
			continue
		}

		edges, err := s.neighbors(ctx, cur.node, "out")
		if err != nil {
			continue
		}
		for _, e := range edges {
			if _, seen := cameFrom[e.TargetID]; !seen {
				cameFrom[e.TargetID] = e
				queue = append(queue, queueItem{node: e.TargetID, depth: cur.depth + 1})
			}
		}
	}

	return nil, fmt.Errorf("%w: no path from node %d to node %d within %d hops", ErrNotFound, fromID, toID, maxDepth)
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

// canonicalAliases maps common abbreviation/expansion pairs onto a
// single canonical form, so "db" and "database" (or "js"/"javascript",
// "ts"/"typescript", "repo"/"repository", "config"/"configuration",
// "auth"/"authentication") collapse onto one graph node even though
// neither normalization nor the Levenshtein/Jaccard fuzzy pass would
// reliably catch them.
var canonicalAliases = map[string]string{
	"db":            "database",
	"database":      "database",
	"js":            "javascript",
	"javascript":    "javascript",
	"ts":            "typescript",
	"typescript":    "typescript",
	"repo":          "repository",
	"repository":    "repository",
	"config":        "configuration",
	"configuration": "configuration",
	"auth":          "authentication",
	"authentication": "authentication",
}

func canonicalize(s string) string {
	key := normalizeEntityName(s)
	if canon, ok := canonicalAliases[key]; ok {
		return canon
	}
	return key
}

func normalizeEntityName(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '-' || r == '_' || r == '.' || r == '/':
			return ' '
		default:
			return r
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

