package cpm

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/joshharrison/goalplan/internal/graph"
	"github.com/joshharrison/goalplan/internal/metrics"
	"github.com/joshharrison/goalplan/internal/plan"
)

// Epsilon is the tolerance used for every comparison of schedule times.
// Durations are real-valued days, so zero slack means |slack| <= Epsilon.
const Epsilon = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) <= Epsilon
}

// Analyze performs critical path method analysis on a plan. Task status is
// ignored: the analysis is structural, based on durations and precedence only.
//
// A plan that fails graph construction (dangling or self dependency, cycle,
// bad duration) is reported as *plan.InvalidPlanError.
func Analyze(p *plan.Plan) (*Result, error) {
	g, err := graph.Build(p)
	if err != nil {
		var invErr *plan.InvalidPlanError
		if errors.As(err, &invErr) {
			return nil, invErr
		}
		return nil, &plan.InvalidPlanError{Reason: "dependency graph has no valid order", Err: err}
	}

	order, err := topoSort(g)
	if err != nil {
		return nil, &plan.InvalidPlanError{Reason: "dependency graph has no valid order", Err: err}
	}

	n := len(p.Tasks)
	es := make([]float64, n)
	ef := make([]float64, n)
	ls := make([]float64, n)
	lf := make([]float64, n)

	// Forward pass: ES = max(EF of all dependencies)
	for _, i := range order {
		start := 0.0
		for _, pred := range g.RevAdj[i] {
			if ef[pred] > start {
				start = ef[pred]
			}
		}
		es[i] = start
		ef[i] = start + p.Tasks[i].Duration
	}

	projectEnd := 0.0
	for i := range ef {
		if ef[i] > projectEnd {
			projectEnd = ef[i]
		}
	}

	// Backward pass in reverse topological order: LF = min(LS of successors),
	// defaulting to the project end for sinks.
	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		finish := projectEnd
		for _, succ := range g.Adj[i] {
			if ls[succ] < finish {
				finish = ls[succ]
			}
		}
		lf[i] = finish
		ls[i] = finish - p.Tasks[i].Duration
	}

	result := &Result{
		Tasks:         make(map[string]*TaskSchedule, n),
		TopoOrder:     make([]string, len(order)),
		TotalDuration: projectEnd,
	}
	critical := make([]bool, n)
	for k, i := range order {
		id := p.Tasks[i].ID
		result.TopoOrder[k] = id

		slack := ls[i] - es[i]
		if near(slack, 0) {
			slack = 0
			critical[i] = true
		}
		result.Tasks[id] = &TaskSchedule{
			TaskID:     id,
			ES:         es[i],
			EF:         ef[i],
			LS:         ls[i],
			LF:         lf[i],
			Slack:      slack,
			IsCritical: critical[i],
		}
	}

	for _, i := range criticalChain(g, es, ef, critical) {
		result.CriticalPath = append(result.CriticalPath, p.Tasks[i].ID)
	}

	result.Waves = computeWaves(result, g, es)

	return result, nil
}

// topoSort performs Kahn's algorithm. Among ready tasks the earliest-declared
// one is always taken next, so the order is deterministic.
func topoSort(g *graph.Graph) ([]int, error) {
	n := g.TaskCount()
	inDegree := make([]int, n)
	var queue []int
	for i := 0; i < n; i++ {
		inDegree[i] = len(g.RevAdj[i])
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]int, 0, n)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, succ := range g.Adj[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		sort.Ints(queue)
	}

	if len(order) != n {
		return nil, fmt.Errorf("topological sort failed: graph has a cycle (%d of %d tasks sorted)", len(order), n)
	}
	return order, nil
}

// criticalChain walks forward from the earliest-declared critical source,
// each step taking the earliest-declared critical successor that starts when
// the current task finishes. Every critical task that ends before the project
// end has such a successor, so the walk stops on a task finishing at the
// project end and the durations along it sum to that end.
func criticalChain(g *graph.Graph, es, ef []float64, critical []bool) []int {
	cur := -1
	for i := range critical {
		if critical[i] && len(g.RevAdj[i]) == 0 {
			cur = i
			break
		}
	}
	if cur < 0 {
		return nil
	}

	chain := []int{cur}
	for {
		next := -1
		for _, s := range g.Adj[cur] {
			if critical[s] && near(es[s], ef[cur]) && (next < 0 || s < next) {
				next = s
			}
		}
		if next < 0 {
			return chain
		}
		chain = append(chain, next)
		cur = next
	}
}

// computeWaves groups tasks by their earliest start time.
func computeWaves(result *Result, g *graph.Graph, es []float64) []Wave {
	idx := make([]int, g.TaskCount())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return es[idx[a]] < es[idx[b]] && !near(es[idx[a]], es[idx[b]])
	})

	var waves []Wave
	for _, i := range idx {
		if len(waves) == 0 || !near(waves[len(waves)-1].Start, es[i]) {
			waves = append(waves, Wave{Index: len(waves), Start: es[i]})
		}
		w := &waves[len(waves)-1]
		ts := result.Tasks[g.Plan.Tasks[i].ID]
		ts.Wave = w.Index
		w.TaskIDs = append(w.TaskIDs, ts.TaskID)
		if ts.IsCritical {
			w.IsCritical = true
		}
	}

	// Sort critical tasks first within wave
	for _, w := range waves {
		sort.SliceStable(w.TaskIDs, func(a, b int) bool {
			return result.Tasks[w.TaskIDs[a]].IsCritical && !result.Tasks[w.TaskIDs[b]].IsCritical
		})
	}

	return waves
}

// AnalyzeObserved runs Analyze and records its outcome and latency in m,
// which may be nil.
func AnalyzeObserved(p *plan.Plan, m *metrics.Metrics) (*Result, error) {
	start := time.Now()
	res, err := Analyze(p)
	m.ObserveAnalysis(err == nil, time.Since(start).Seconds())
	return res, err
}
