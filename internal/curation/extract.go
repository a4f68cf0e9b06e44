package curation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/noobynull/laminark/internal/logging"
	"github.com/noobynull/laminark/internal/store"
)

// entityEdge is one extracted relation, referencing entities by name
// within the same response rather than by graph id, since the ids
// don't exist until UpsertNode runs.
type entityEdge struct {
	Source   entityRef `json:"source"`
	Target   entityRef `json:"target"`
	Relation string    `json:"relation"`
}

type entityRef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type extraction struct {
	Edges []entityEdge `json:"edges"`
}

const extractionPromptTemplate = `Extract typed entities and relationships from this developer activity log.
Entity types: file, concept, tool, person. Only extract relationships that are explicitly stated or strongly implied.

Activity:
{{range .Entries}}- [{{.Source}}] {{.Content}}
{{end}}
Respond with a JSON object only: {"edges": [{"source": {"name": "...", "type": "..."}, "target": {"name": "...", "type": "..."}, "relation": "..."}]}.
Use an empty edges array if nothing meaningful can be extracted. Do not include any text outside the JSON object.
`

// ExtractEntities asks the agent to identify entities and relations in
// a batch of observations, then materializes them into the knowledge
// graph via UpsertNode/LinkNodes, relying on the graph's own fuzzy
// dedup so repeated mentions of the same entity collapse onto one node.
func (p *Pipeline) ExtractEntities(ctx context.Context, projectHash string, observations []*store.Observation) (int, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "ExtractEntities")
	defer timer.Stop()

	if len(observations) == 0 {
		return 0, nil
	}

	type entry struct {
		Source  string
		Content string
	}
	entries := make([]entry, 0, len(observations))
	for _, obs := range observations {
		entries = append(entries, entry{Source: obs.Source, Content: truncate(obs.Content, 300)})
	}

	tmpl, err := template.New("extract").Parse(extractionPromptTemplate)
	if err != nil {
		return 0, err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, struct{ Entries []entry }{Entries: entries}); err != nil {
		return 0, err
	}

	result, err := p.agent.Complete(ctx, buf.String(), p.config.TimeoutMS)
	if err != nil {
		logging.AgentWarn("entity extraction call failed, skipping: %v", err)
		return 0, nil
	}

	ex, err := parseExtraction(result.Text)
	if err != nil {
		logging.CurationWarn("malformed entity extraction response, skipping: %v", err)
		return 0, nil
	}

	linked := 0
	for _, edge := range ex.Edges {
		if edge.Source.Name == "" || edge.Target.Name == "" || edge.Relation == "" {
			continue
		}
		srcType := edge.Source.Type
		if srcType == "" {
			srcType = "concept"
		}
		tgtType := edge.Target.Type
		if tgtType == "" {
			tgtType = "concept"
		}

		src, err := p.store.UpsertNode(ctx, projectHash, edge.Source.Name, srcType)
		if err != nil {
			continue
		}
		tgt, err := p.store.UpsertNode(ctx, projectHash, edge.Target.Name, tgtType)
		if err != nil {
			continue
		}
		if err := p.store.LinkNodes(ctx, projectHash, src.ID, tgt.ID, edge.Relation, 1.0, nil); err != nil {
			continue
		}
		linked++
	}

	logging.Curation("entity extraction: %d edges linked from %d observations", linked, len(observations))
	return linked, nil
}

func parseExtraction(text string) (extraction, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end == -1 || end < start {
		return extraction{}, fmt.Errorf("no JSON object found in agent response")
	}
	var ex extraction
	if err := json.Unmarshal([]byte(text[start:end+1]), &ex); err != nil {
		return extraction{}, fmt.Errorf("unmarshal extraction: %w", err)
	}
	return ex, nil
}
