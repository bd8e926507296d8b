// Package resolver turns validated drafts into plan tasks by mapping each
// dependency reference (a title or a 1-based position in the generator's
// list) to a locally assigned task id.
package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joshharrison/goalplan/internal/graph"
	"github.com/joshharrison/goalplan/internal/plan"
	"github.com/joshharrison/goalplan/internal/schema"
)

// Drop reasons.
const (
	ReasonUnknown = "no task with that title or position"
	ReasonSelf    = "task cannot depend on itself"
)

// Drop is a dependency reference that could not be resolved and was removed
// from its task.
type Drop struct {
	Task   string `json:"task"`
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// Result holds the resolved tasks in draft order.
type Result struct {
	Tasks   []plan.Task
	Dropped []Drop
}

var positionRe = regexp.MustCompile(`(?i)^(?:#|task\s*#?|t)?\s*([0-9]+)$`)

// Resolve assigns ids[i] to drafts[i] and resolves every dependency reference.
// Exact (case-insensitive) title match is tried first, then position. Dangling
// and self references are dropped and reported; a cycle fails the whole plan
// with *plan.CyclicDependencyError.
func Resolve(drafts []schema.Draft, ids []string) (*Result, error) {
	if len(ids) != len(drafts) {
		return nil, fmt.Errorf("resolve: %d ids for %d drafts", len(ids), len(drafts))
	}

	byTitle := make(map[string]int, len(drafts))
	byPosition := make(map[int]int, len(drafts))
	for i, d := range drafts {
		key := normalize(d.Title)
		if _, seen := byTitle[key]; !seen {
			byTitle[key] = i
		}
		byPosition[d.Position] = i
	}

	result := &Result{Tasks: make([]plan.Task, len(drafts))}
	for i, d := range drafts {
		task := plan.Task{
			ID:          ids[i],
			Title:       d.Title,
			Description: d.Description,
			Category:    d.Category,
			Priority:    d.Priority,
			Duration:    d.Duration,
			Status:      d.Status,
		}
		if task.Status == "" {
			task.Status = plan.StatusPending
		}

		seen := make(map[int]bool)
		for _, ref := range d.Dependencies {
			j, ok := lookup(ref, byTitle, byPosition)
			switch {
			case !ok:
				result.Dropped = append(result.Dropped, Drop{Task: d.Title, Ref: ref, Reason: ReasonUnknown})
			case j == i:
				result.Dropped = append(result.Dropped, Drop{Task: d.Title, Ref: ref, Reason: ReasonSelf})
			case seen[j]:
			default:
				seen[j] = true
				task.Dependencies = append(task.Dependencies, ids[j])
			}
		}
		result.Tasks[i] = task
	}

	if _, err := graph.Build(&plan.Plan{Tasks: result.Tasks}); err != nil {
		return nil, err
	}
	return result, nil
}

func lookup(ref string, byTitle map[string]int, byPosition map[int]int) (int, bool) {
	if j, ok := byTitle[normalize(ref)]; ok {
		return j, true
	}
	m := positionRe.FindStringSubmatch(strings.TrimSpace(ref))
	if m == nil {
		return 0, false
	}
	pos, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	j, ok := byPosition[pos]
	return j, ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
