// Package curation classifies raw observations into discovery, problem,
// solution, or noise, keeping the recall surface free of unreviewed
// rows without ever blocking the hot capture path that writes them.
package curation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/noobynull/laminark/internal/agent"
	"github.com/noobynull/laminark/internal/logging"
	"github.com/noobynull/laminark/internal/store"
)

const (
	// DefaultBatchSize is the number of oldest unclassified observations
	// fetched per curation pass.
	DefaultBatchSize = 20
	// DefaultContextWindow is how many classified-or-not observations on
	// each side of a pending row are shown to the agent for context.
	DefaultContextWindow = 5
	// DefaultTimeoutMS bounds a single agent call.
	DefaultTimeoutMS = 15_000
	// DefaultFallbackTimeout is how long an observation can sit
	// unclassified before it's auto-promoted to discovery.
	DefaultFallbackTimeout = 5 * time.Minute
)

// classification values the agent may assign; anything else is dropped
// as malformed.
const (
	ClassificationDiscovery = "discovery"
	ClassificationProblem   = "problem"
	ClassificationSolution  = "solution"
	ClassificationNoise     = "noise"
)

var validClassifications = map[string]bool{
	ClassificationDiscovery: true,
	ClassificationProblem:   true,
	ClassificationSolution:  true,
	ClassificationNoise:     true,
}

// Config tunes one Pipeline's batch shape; zero values fall back to the
// package defaults.
type Config struct {
	BatchSize       int
	ContextWindow   int
	TimeoutMS       int
	FallbackTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = DefaultContextWindow
	}
	if c.TimeoutMS <= 0 {
		c.TimeoutMS = DefaultTimeoutMS
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = DefaultFallbackTimeout
	}
	return c
}

// Stats summarizes the outcome of one or more curation passes, for
// surfacing in a status report.
type Stats struct {
	BatchesRun      int
	RowsClassified  int
	RowsAutoPromoted int
}

// Pipeline is the classifier: it pulls pending observations, asks the
// text agent for a verdict, and applies the result.
type Pipeline struct {
	store  *store.Store
	agent  agent.TextAgent
	config Config
}

// New builds a curation pipeline against an already-open store.
func New(s *store.Store, a agent.TextAgent, cfg Config) *Pipeline {
	return &Pipeline{store: s, agent: a, config: cfg.withDefaults()}
}

// verdict is one element of the agent's JSON response.
type verdict struct {
	ID             int64  `json:"id"`
	Classification string `json:"classification"`
	Reason         string `json:"reason"`
}

// RunOnce performs a single batch pass for a project: fetch pending
// rows, render a prompt, call the agent, and apply whatever verdicts
// survive validation. Agent errors are caught and logged; no rows
// change state, and the caller can retry on the next tick.
func (p *Pipeline) RunOnce(ctx context.Context, projectHash string) (Stats, error) {
	timer := logging.StartTimer(logging.CategoryCuration, "RunOnce")
	defer timer.Stop()

	pending, err := p.store.ListUnclassified(ctx, projectHash, p.config.BatchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("list unclassified: %w", err)
	}
	if len(pending) == 0 {
		return Stats{BatchesRun: 1}, nil
	}

	pendingIDs := make(map[int64]bool, len(pending))
	for _, obs := range pending {
		pendingIDs[obs.ID] = true
	}

	prompt, err := p.renderPrompt(ctx, projectHash, pending)
	if err != nil {
		return Stats{}, fmt.Errorf("render curation prompt: %w", err)
	}

	result, err := p.agent.Complete(ctx, prompt, p.config.TimeoutMS)
	if err != nil {
		logging.CurationWarn("curation pass failed, no rows changed: %v", err)
		return Stats{BatchesRun: 1}, nil
	}

	verdicts, err := parseVerdicts(result.Text)
	if err != nil {
		logging.CurationWarn("malformed curation response, no rows changed: %v", err)
		return Stats{BatchesRun: 1}, nil
	}

	applied := 0
	for _, v := range verdicts {
		if !pendingIDs[v.ID] {
			continue
		}
		if !validClassifications[v.Classification] {
			continue
		}
		if err := p.applyClassification(ctx, v.ID, v.Classification); err != nil {
			logging.CurationWarn("apply classification for observation %d failed: %v", v.ID, err)
			continue
		}
		applied++
	}

	logging.Curation("curation pass: %d pending, %d verdicts applied", len(pending), applied)
	return Stats{BatchesRun: 1, RowsClassified: applied}, nil
}

// RunFallback auto-promotes observations that have sat unclassified
// longer than the configured fallback timeout, so a stalled or
// perpetually-erroring agent never starves search results of content
// that was never actually noise.
func (p *Pipeline) RunFallback(ctx context.Context, projectHash string) (Stats, error) {
	cutoff := time.Now().Add(-p.config.FallbackTimeout)

	candidates, err := p.store.ListUnclassified(ctx, projectHash, 1000)
	if err != nil {
		return Stats{}, fmt.Errorf("list unclassified for fallback: %w", err)
	}

	promoted := 0
	for _, obs := range candidates {
		if obs.CreatedAt.After(cutoff) {
			continue
		}
		if err := p.applyClassification(ctx, obs.ID, ClassificationDiscovery); err != nil {
			logging.CurationWarn("fallback promotion of observation %d failed: %v", obs.ID, err)
			continue
		}
		promoted++
		logging.CurationDebug("observation %d auto-promoted to discovery: fallback-timeout", obs.ID)
	}

	return Stats{RowsAutoPromoted: promoted}, nil
}

// applyClassification writes a verdict; Classify itself soft-deletes the
// row when classification is noise.
func (p *Pipeline) applyClassification(ctx context.Context, id int64, classification string) error {
	return p.store.Classify(ctx, id, classification)
}

const promptTemplate = `You are classifying recent developer activity captured by a coding assistant.
For each observation marked [PENDING], assign exactly one classification: discovery, problem, solution, or noise.
- discovery: a fact worth remembering about the codebase or its behavior.
- problem: an issue or failure was encountered.
- solution: a fix or resolution was applied.
- noise: routine, non-informative activity (e.g. a directory listing) that should be discarded.

Context (chronological, {{.Window}} entries each side of every pending row):
{{range .Entries}}[{{.Tag}}] id={{.ID}} source={{.Source}}: {{.Content}}
{{end}}
Respond with a JSON array only, one object per pending id: [{"id": <id>, "classification": "<value>", "reason": "<short reason>"}].
Do not include ids that are not marked [PENDING]. Do not include any text outside the JSON array.
`

type promptEntry struct {
	Tag     string
	ID      int64
	Source  string
	Content string
}

type promptData struct {
	Window  int
	Entries []promptEntry
}

// renderPrompt interleaves each pending row with its surrounding
// context window and renders a deterministic classification prompt.
func (p *Pipeline) renderPrompt(ctx context.Context, projectHash string, pending []*store.Observation) (string, error) {
	seen := make(map[int64]bool)
	var entries []promptEntry

	for _, obs := range pending {
		window, err := p.store.ListContext(ctx, projectHash, obs.CreatedAt, p.config.ContextWindow)
		if err != nil {
			return "", err
		}
		for _, w := range window {
			if seen[w.ID] {
				continue
			}
			seen[w.ID] = true
			tag := "context"
			if pendingSet(pending, w.ID) {
				tag = "PENDING"
			}
			entries = append(entries, promptEntry{Tag: tag, ID: w.ID, Source: w.Source, Content: truncate(w.Content, 500)})
		}
	}

	tmpl, err := template.New("curation").Parse(promptTemplate)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, promptData{Window: p.config.ContextWindow, Entries: entries}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func pendingSet(pending []*store.Observation, id int64) bool {
	for _, obs := range pending {
		if obs.ID == id {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// parseVerdicts extracts a JSON array of verdicts from the agent's raw
// text, tolerating a model that wraps the array in prose or a fenced
// code block, but never partially accepting a malformed payload.
func parseVerdicts(text string) ([]verdict, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array found in agent response")
	}

	var verdicts []verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &verdicts); err != nil {
		return nil, fmt.Errorf("unmarshal verdicts: %w", err)
	}
	return verdicts, nil
}
