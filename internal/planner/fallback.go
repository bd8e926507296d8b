package planner

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/joshharrison/goalplan/internal/plan"
	"github.com/joshharrison/goalplan/internal/resolver"
	"github.com/joshharrison/goalplan/internal/schema"
)

type fallbackPhase struct {
	title       string
	description string
	priority    plan.Priority
	category    string
}

var fallbackPhases = []fallbackPhase{
	{"Research & Planning", "Research and create a detailed plan for: %s", plan.PriorityHigh, "Planning"},
	{"Implementation", "Develop and integrate the main components.", plan.PriorityHigh, "Development"},
	{"Testing & Review", "Test features, fix bugs, and finalize the project.", plan.PriorityMedium, "Testing"},
}

var (
	fallbackRisks           = []string{"The plan is a generic template, not tailored to the goal"}
	fallbackRecommendations = []string{"Retry generation, or export the plan and edit it before validating"}
)

// FallbackPayload renders the fixed three-phase template in the generator's
// own JSON shape. Each phase depends only on the one before it and all phases
// share the same duration.
func FallbackPayload(goal string, days float64) []byte {
	if !(days > 0) || math.IsInf(days, 1) {
		days = DefaultFallbackTaskDays
	}

	doc := plan.DraftDocument{
		Tasks:           make([]plan.DraftTask, len(fallbackPhases)),
		Risks:           fallbackRisks,
		Recommendations: fallbackRecommendations,
	}
	for i, ph := range fallbackPhases {
		desc := ph.description
		if i == 0 {
			desc = fmt.Sprintf(ph.description, goal)
		}
		deps := []any{}
		if i > 0 {
			deps = append(deps, fallbackPhases[i-1].title)
		}
		doc.Tasks[i] = plan.DraftTask{
			Title:        ph.title,
			Description:  desc,
			Category:     ph.category,
			Priority:     string(ph.priority),
			Duration:     days,
			Dependencies: deps,
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		// Only strings and finite numbers are marshalled.
		panic(fmt.Sprintf("marshal fallback template: %v", err))
	}
	return data
}

// Fallback builds the fallback plan for goal. It goes through the same
// validator and resolver as generator output.
func Fallback(goal string, days float64, newID func() string) (*plan.Plan, *resolver.Result, error) {
	report, err := schema.Validate(FallbackPayload(goal, days), schema.Options{})
	if err != nil {
		return nil, nil, fmt.Errorf("validate fallback template: %w", err)
	}
	res, err := resolver.Resolve(report.Drafts, newIDs(len(report.Drafts), newID))
	if err != nil {
		return nil, nil, fmt.Errorf("resolve fallback template: %w", err)
	}
	return &plan.Plan{
		Goal:            goal,
		Source:          plan.SourceFallback,
		Tasks:           res.Tasks,
		Risks:           report.Risks,
		Recommendations: report.Recommendations,
	}, res, nil
}

func newIDs(n int, newID func() string) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = newID()
	}
	return ids
}
