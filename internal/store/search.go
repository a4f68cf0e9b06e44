package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/noobynull/laminark/internal/logging"
)

// SearchResult is one fused hit: an observation plus the signals that
// produced its rank.
type SearchResult struct {
	Observation *Observation
	Snippet     string
	LexicalRank int // 1-based rank in the BM25 pass, 0 if absent
	VectorRank  int // 1-based rank in the vector pass, 0 if absent
	FusedScore  float64
}

// SearchOptions tunes one Search call; zero values fall back to
// config-supplied defaults via WithDefaults. SessionID/Kind/Since mirror
// ListOptions' filters, scoping both the lexical and vector passes the
// same way a plain List call would.
type SearchOptions struct {
	Limit               int
	RRFK                int
	CandidateMultiplier int
	SnippetMaxLen       int

	SessionID           string
	Kind                string
	Since               time.Time
	IncludeUnclassified bool
}

// WithDefaults fills unset fields from config-shaped defaults.
func (o SearchOptions) WithDefaults(rrfK, candidateMultiplier, snippetMaxLen, limit int) SearchOptions {
	if o.Limit <= 0 {
		o.Limit = limit
	}
	if o.RRFK <= 0 {
		o.RRFK = rrfK
	}
	if o.CandidateMultiplier <= 0 {
		o.CandidateMultiplier = candidateMultiplier
	}
	if o.SnippetMaxLen <= 0 {
		o.SnippetMaxLen = snippetMaxLen
	}
	return o
}

// Search runs the hybrid recall pass: a BM25 lexical query against
// observations_fts and, when vector capability is available, a cosine
// KNN pass against observation_vectors, fused by reciprocal rank fusion
// (RRF). When no vector signal is available the lexical ranking is
// returned unchanged, so callers never have to special-case degraded
// capability.
func (s *Store) Search(ctx context.Context, projectHash, query string, queryVec []float32, opts SearchOptions) ([]*SearchResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Search")
	defer timer.Stop()

	if query == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrValidation)
	}

	candidateLimit := opts.Limit * opts.CandidateMultiplier
	if candidateLimit <= 0 {
		candidateLimit = opts.Limit
	}

	lexical, snippets, err := s.lexicalPass(ctx, projectHash, query, candidateLimit, opts.SnippetMaxLen, opts)
	if err != nil {
		return nil, fmt.Errorf("lexical pass: %w", err)
	}

	var vector []rankedHit
	if s.hasVec && len(queryVec) > 0 {
		vector, err = s.vectorPass(ctx, projectHash, queryVec, candidateLimit, opts)
		if err != nil {
			logging.SearchDebug("vector pass failed, continuing lexical-only: %v", err)
			vector = nil
		}
	}

	fused := fuseRRF(lexical, vector, opts.RRFK)

	results := make([]*SearchResult, 0, len(fused))
	for _, hit := range fused {
		if len(results) >= opts.Limit {
			break
		}
		obs, err := s.getByID(ctx, hit.id)
		if err != nil {
			continue
		}
		results = append(results, &SearchResult{
			Observation: obs,
			Snippet:     snippets[hit.id],
			LexicalRank: hit.lexicalRank,
			VectorRank:  hit.vectorRank,
			FusedScore:  hit.score,
		})
	}

	logging.SearchDebug("query=%q lexical=%d vector=%d fused=%d returned=%d",
		truncateForLog(query, 80), len(lexical), len(vector), len(fused), len(results))
	return results, nil
}

type rankedHit struct {
	id   int64
	rank int
}

// lexicalPass runs the BM25 query and returns ranked hits alongside a
// per-call snippet map, keeping highlighted excerpts scoped to this
// search rather than shared mutable state across concurrent callers.
// Title is weighted 2x content in the ranking so a match in a short,
// curated title outranks an equally-scored hit buried in raw content.
func (s *Store) lexicalPass(ctx context.Context, projectHash, query string, limit, snippetMaxLen int, opts SearchOptions) ([]rankedHit, map[int64]string, error) {
	contentIdx := ftsColumnIndex("content")
	if contentIdx < 0 {
		contentIdx = 0
	}

	filter, args := searchRowFilter(opts)

	sqlText := fmt.Sprintf(`
		SELECT o.id, snippet(observations_fts, %d, '<mark>', '</mark>', '...', %d)
		FROM observations_fts
		JOIN observations o ON o.id = observations_fts.rowid
		WHERE observations_fts MATCH ? AND o.project_hash = ?%s
		ORDER BY bm25(observations_fts%s)
		LIMIT ?`, contentIdx, snippetMaxLenWords(snippetMaxLen), filter, bm25WeightClause())

	queryArgs := append([]interface{}{escapeFTSQuery(query), projectHash}, args...)
	queryArgs = append(queryArgs, limit)

	rows, err := s.db.QueryContext(ctx, sqlText, queryArgs...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var hits []rankedHit
	snippets := make(map[int64]string)
	rank := 1
	for rows.Next() {
		var id int64
		var snippet string
		if err := rows.Scan(&id, &snippet); err != nil {
			continue
		}
		snippets[id] = snippet
		hits = append(hits, rankedHit{id: id, rank: rank})
		rank++
	}
	return hits, snippets, nil
}

func (s *Store) vectorPass(ctx context.Context, projectHash string, queryVec []float32, limit int, opts SearchOptions) ([]rankedHit, error) {
	blob := encodeVector(queryVec)
	filter, filterArgs := searchRowFilter(opts)
	// observation_vectors is not scoped by project_hash directly (vec0
	// tables carry no secondary index), so the join back to observations
	// both scopes the project and applies every other row filter.
	sqlText := fmt.Sprintf(`
		SELECT o.id FROM observation_vectors v
		JOIN observations o ON o.id = v.rowid
		WHERE o.project_hash = ?%s
		ORDER BY vector_distance_cos(v.embedding, ?)
		LIMIT ?`, filter)

	args := append([]interface{}{projectHash}, filterArgs...)
	args = append(args, blob, limit)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
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

type fusedHit struct {
	id          int64
	lexicalRank int
	vectorRank  int
	score       float64
}

// fuseRRF combines two ranked lists with reciprocal rank fusion:
// score(d) = sum over lists containing d of 1/(k + rank(d)).
func fuseRRF(lexical, vector []rankedHit, k int) []fusedHit {
	if k <= 0 {
		k = 60
	}
	scores := make(map[int64]*fusedHit)

	for _, h := range lexical {
		scores[h.id] = &fusedHit{id: h.id, lexicalRank: h.rank, score: 1.0 / float64(k+h.rank)}
	}
	for _, h := range vector {
		if existing, ok := scores[h.id]; ok {
			existing.vectorRank = h.rank
			existing.score += 1.0 / float64(k+h.rank)
		} else {
			scores[h.id] = &fusedHit{id: h.id, vectorRank: h.rank, score: 1.0 / float64(k+h.rank)}
		}
	}

	out := make([]fusedHit, 0, len(scores))
	for _, v := range scores {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}

// searchRowFilter builds the shared WHERE-clause tail and its bind args
// for both the lexical and vector passes, so the two stay scoped to the
// same rows: soft-deleted observations are always excluded, and an
// unclassified row is hidden unless the caller opts in.
func searchRowFilter(opts SearchOptions) (string, []interface{}) {
	var b strings.Builder
	var args []interface{}

	b.WriteString(" AND o.deleted_at IS NULL")
	if !opts.IncludeUnclassified {
		b.WriteString(" AND o.classification IS NOT NULL")
	}
	if opts.SessionID != "" {
		b.WriteString(" AND o.session_id = ?")
		args = append(args, opts.SessionID)
	}
	if opts.Kind != "" {
		b.WriteString(" AND o.kind = ?")
		args = append(args, opts.Kind)
	}
	if !opts.Since.IsZero() {
		b.WriteString(" AND o.created_at >= ?")
		args = append(args, opts.Since)
	}
	return b.String(), args
}

// bm25WeightClause produces the per-column weight arguments to bm25(),
// tracking ftsColumns so the weights always line up with whatever
// migration boundary the database is actually at. Title is weighted 2x
// content; any other indexed column (currently just source, added in
// migration 4) carries no ranking weight of its own.
func bm25WeightClause() string {
	weights := make([]string, len(ftsColumns))
	for i, c := range ftsColumns {
		switch c {
		case "title":
			weights[i] = "2.0"
		case "content":
			weights[i] = "1.0"
		default:
			weights[i] = "0.0"
		}
	}
	return ", " + strings.Join(weights, ", ")
}

// ftsColumnIndex returns the position of a named column in the current
// observations_fts layout, tracking the v3->v4 migration that appended
// a `source` column after `title`. Returns -1 if the column isn't
// present.
func ftsColumnIndex(name string) int {
	for i, c := range ftsColumns {
		if c == name {
			return i
		}
	}
	return -1
}

// snippetMaxLenWords converts a character budget into an approximate
// word count for FTS5's snippet(), which takes a token count rather
// than a character count.
func snippetMaxLenWords(maxLen int) int {
	words := maxLen / 6
	if words < 8 {
		words = 8
	}
	if words > 64 {
		words = 64
	}
	return words
}

// escapeFTSQuery wraps free text in double quotes per term so that
// punctuation in the query (common in code/error-message observations)
// doesn't trip FTS5's query-syntax parser.
func escapeFTSQuery(query string) string {
	fields := strings.Fields(query)
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		fields[i] = `"` + f + `"`
	}
	return strings.Join(fields, " ")
}
