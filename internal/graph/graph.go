package graph

import (
	"fmt"

	"github.com/joshharrison/goalplan/internal/plan"
)

// Build indexes a plan and checks its structural invariants: unique non-empty
// ids, positive durations, no self-references, no dangling dependencies and
// no cycles. Structural violations are *plan.InvalidPlanError; a cycle is
// *plan.CyclicDependencyError.
func Build(p *plan.Plan) (*Graph, error) {
	n := len(p.Tasks)
	g := &Graph{
		Plan:   p,
		Index:  make(map[string]int, n),
		Adj:    make([][]int, n),
		RevAdj: make([][]int, n),
	}

	for i, t := range p.Tasks {
		if t.ID == "" {
			return nil, &plan.InvalidPlanError{Reason: fmt.Sprintf("task %d (%q) has no id", i+1, t.Title)}
		}
		if _, dup := g.Index[t.ID]; dup {
			return nil, &plan.InvalidPlanError{Reason: fmt.Sprintf("duplicate task id %s", t.ID)}
		}
		if !(t.Duration > 0) {
			return nil, &plan.InvalidPlanError{Reason: fmt.Sprintf("task %q has non-positive duration %v", t.Title, t.Duration)}
		}
		g.Index[t.ID] = i
	}

	edgeSet := make(map[[2]int]bool)
	for i, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			j, ok := g.Index[dep]
			if !ok {
				return nil, &plan.InvalidPlanError{Reason: fmt.Sprintf("task %q depends on unknown task %s", t.Title, dep)}
			}
			if j == i {
				return nil, &plan.InvalidPlanError{Reason: fmt.Sprintf("task %q depends on itself", t.Title)}
			}
			key := [2]int{j, i}
			if edgeSet[key] {
				continue
			}
			edgeSet[key] = true
			g.Adj[j] = append(g.Adj[j], i)
			g.RevAdj[i] = append(g.RevAdj[i], j)
		}
	}

	// Adjacency is filled in declaration order of the dependent task, so
	// Adj[j] is already ascending. RevAdj follows each task's dependency
	// list order, which is fine for traversal.
	for i := 0; i < n; i++ {
		if len(g.RevAdj[i]) == 0 {
			g.Roots = append(g.Roots, i)
		}
		if len(g.Adj[i]) == 0 {
			g.Leaves = append(g.Leaves, i)
		}
	}

	if cycle := g.DetectCycle(); cycle != nil {
		titles := make([]string, len(cycle))
		for k, idx := range cycle {
			titles[k] = p.Tasks[idx].Title
		}
		return nil, &plan.CyclicDependencyError{Cycle: titles}
	}

	return g, nil
}

// DetectCycle returns the cycle as task indices (first index repeated at the
// end, in dependency order), or nil if the graph is acyclic.
// Uses DFS with coloring: white (unvisited), gray (in progress), black (done).
func (g *Graph) DetectCycle() []int {
	return detectCycle(g.Adj)
}

func detectCycle(adj [][]int) []int {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(adj))
	parent := make([]int, len(adj))

	var dfs func(node int) []int
	dfs = func(node int) []int {
		color[node] = gray
		for _, next := range adj[node] {
			if color[next] == gray {
				// Found a cycle: walk parents back to next.
				cycle := []int{next, node}
				cur := node
				for cur != next {
					cur = parent[cur]
					cycle = append(cycle, cur)
				}
				for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
					cycle[i], cycle[j] = cycle[j], cycle[i]
				}
				return cycle
			}
			if color[next] == white {
				parent[next] = node
				if cycle := dfs(next); cycle != nil {
					return cycle
				}
			}
		}
		color[node] = black
		return nil
	}

	for id := range adj {
		if color[id] == white {
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TaskCount returns the number of tasks in the graph.
func (g *Graph) TaskCount() int {
	return len(g.Plan.Tasks)
}

// Successors returns the ids of tasks that depend on id.
func (g *Graph) Successors(id string) []string {
	i, ok := g.Index[id]
	if !ok {
		return nil
	}
	out := make([]string, len(g.Adj[i]))
	for k, s := range g.Adj[i] {
		out[k] = g.Plan.Tasks[s].ID
	}
	return out
}

// Filter returns a copy of the plan containing only tasks matching pred.
// Dependencies on removed tasks are dropped from the remaining tasks.
func Filter(p *plan.Plan, pred func(*plan.Task) bool) *plan.Plan {
	out := *p
	out.Tasks = nil
	kept := make(map[string]bool)
	for i := range p.Tasks {
		if pred(&p.Tasks[i]) {
			kept[p.Tasks[i].ID] = true
		}
	}
	for _, t := range p.Tasks {
		if !kept[t.ID] {
			continue
		}
		var deps []string
		for _, d := range t.Dependencies {
			if kept[d] {
				deps = append(deps, d)
			}
		}
		t.Dependencies = deps
		out.Tasks = append(out.Tasks, t)
	}
	return &out
}
