package config

// SearchConfig configures the hybrid lexical + vector search engine.
type SearchConfig struct {
	// RRFK is the reciprocal rank fusion constant (spec default 60).
	RRFK int `yaml:"rrf_k"`

	// CandidateMultiplier controls how many candidates each of the
	// lexical and vector passes fetch relative to the requested result
	// count, before fusion and truncation.
	CandidateMultiplier int `yaml:"candidate_multiplier"`

	// SnippetMaxLen bounds the length of FTS5 snippet() output returned
	// with each lexical hit, highlighted with <mark> tags.
	SnippetMaxLen int `yaml:"snippet_max_len"`
}
