package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DraftTask is the generator-facing shape of a task: dependencies are
// human-authored references (titles or 1-based positions), never ids.
type DraftTask struct {
	Title        string  `json:"title" yaml:"title"`
	Description  string  `json:"description,omitempty" yaml:"description,omitempty"`
	Category     string  `json:"category,omitempty" yaml:"category,omitempty"`
	Priority     string  `json:"priority,omitempty" yaml:"priority,omitempty"`
	Status       string  `json:"status,omitempty" yaml:"status,omitempty"`
	Duration     float64 `json:"duration" yaml:"duration"`
	Dependencies []any   `json:"dependencies" yaml:"dependencies"`
}

// DraftDocument wraps draft tasks the same way the generation prompt asks for.
type DraftDocument struct {
	Tasks           []DraftTask `json:"tasks" yaml:"tasks"`
	Risks           []string    `json:"risk_factors,omitempty" yaml:"risk_factors,omitempty"`
	Recommendations []string    `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// ToDraft converts a plan back into generator-shaped drafts so it can be
// edited by hand and re-validated. Dependencies are written as titles, or as
// positions when the title is shared by more than one task.
func ToDraft(p *Plan) DraftDocument {
	titleCount := make(map[string]int, len(p.Tasks))
	position := make(map[string]int, len(p.Tasks))
	for i, t := range p.Tasks {
		titleCount[strings.ToLower(strings.TrimSpace(t.Title))]++
		position[t.ID] = i + 1
	}

	doc := DraftDocument{
		Tasks:           make([]DraftTask, 0, len(p.Tasks)),
		Risks:           p.Risks,
		Recommendations: p.Recommendations,
	}
	for _, t := range p.Tasks {
		deps := make([]any, 0, len(t.Dependencies))
		for _, dep := range t.Dependencies {
			pos, ok := position[dep]
			if !ok {
				// Dangling ids are kept as-is; the resolver will drop them.
				deps = append(deps, dep)
				continue
			}
			target := p.Tasks[pos-1]
			if titleCount[strings.ToLower(strings.TrimSpace(target.Title))] > 1 {
				deps = append(deps, pos)
			} else {
				deps = append(deps, target.Title)
			}
		}
		doc.Tasks = append(doc.Tasks, DraftTask{
			Title:        t.Title,
			Description:  t.Description,
			Category:     t.Category,
			Priority:     string(t.Priority),
			Status:       string(t.Status),
			Duration:     t.Duration,
			Dependencies: deps,
		})
	}
	return doc
}

// MarshalDraft encodes ToDraft(p) as indented JSON.
func MarshalDraft(p *Plan) ([]byte, error) {
	return json.MarshalIndent(ToDraft(p), "", "  ")
}

// MarshalDraftYAML encodes ToDraft(p) as YAML.
func MarshalDraftYAML(p *Plan) ([]byte, error) {
	return yaml.Marshal(ToDraft(p))
}

// DraftYAMLToJSON converts a YAML draft document into the equivalent JSON so
// it can go through the same validation as generator output.
func DraftYAMLToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml draft: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml draft: %w", err)
	}
	return out, nil
}
