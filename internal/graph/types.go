package graph

import "github.com/joshharrison/goalplan/internal/plan"

// Graph is an arena view of a plan: tasks are addressed by their index in
// Plan.Tasks and edges are index lists, so no pointer graph is built.
type Graph struct {
	Plan   *plan.Plan
	Index  map[string]int // task id -> index
	Adj    [][]int        // task -> tasks that depend on it
	RevAdj [][]int        // task -> tasks it depends on
	Roots  []int          // tasks with no dependencies
	Leaves []int          // tasks nothing depends on
}
