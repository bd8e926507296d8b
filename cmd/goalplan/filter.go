package main

import (
	"fmt"
	"strings"

	"github.com/joshharrison/goalplan/internal/graph"
	"github.com/joshharrison/goalplan/internal/plan"
)

// applyFilter parses simple filter expressions and returns a filtered plan.
// Supported: priority>=P, priority<=P, priority=P, category=X, status=S.
func applyFilter(p *plan.Plan, filter string) (*plan.Plan, error) {
	switch {
	case strings.HasPrefix(filter, "priority"):
		return filterByPriority(p, strings.TrimPrefix(filter, "priority"))
	case strings.HasPrefix(filter, "category="):
		category := strings.TrimPrefix(filter, "category=")
		return graph.Filter(p, func(t *plan.Task) bool {
			return strings.EqualFold(t.Category, category)
		}), nil
	case strings.HasPrefix(filter, "status="):
		status, ok := plan.ParseStatus(strings.TrimPrefix(filter, "status="))
		if !ok {
			return nil, fmt.Errorf("invalid status in filter: %s", filter)
		}
		return graph.Filter(p, func(t *plan.Task) bool { return t.Status == status }), nil
	}
	return nil, fmt.Errorf("unsupported filter: %s (use priority>=P, category=X, or status=S)", filter)
}

func filterByPriority(p *plan.Plan, expr string) (*plan.Plan, error) {
	for _, op := range []string{">=", "<=", "="} {
		if !strings.HasPrefix(expr, op) {
			continue
		}
		prio, ok := plan.ParsePriority(strings.TrimPrefix(expr, op))
		if !ok {
			return nil, fmt.Errorf("invalid priority value: %s", strings.TrimPrefix(expr, op))
		}
		rank := prio.Rank()
		return graph.Filter(p, func(t *plan.Task) bool {
			switch op {
			case ">=":
				return t.Priority.Rank() >= rank
			case "<=":
				return t.Priority.Rank() <= rank
			default:
				return t.Priority.Rank() == rank
			}
		}), nil
	}
	return nil, fmt.Errorf("unsupported priority filter: priority%s", expr)
}
