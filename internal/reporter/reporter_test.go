package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/joshharrison/goalplan/internal/cpm"
	"github.com/joshharrison/goalplan/internal/plan"
	"github.com/joshharrison/goalplan/internal/planner"
	"github.com/joshharrison/goalplan/internal/resolver"
	"github.com/joshharrison/goalplan/internal/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func makePlan() *plan.Plan {
	return &plan.Plan{
		Goal:      "Launch the website",
		Deadline:  "2026-12-01",
		Source:    plan.SourceGenerated,
		CreatedAt: time.Date(2026, 11, 2, 10, 0, 0, 0, time.UTC),
		Tasks: []plan.Task{
			{ID: "design", Title: "Design", Priority: plan.PriorityHigh, Duration: 2, Category: "Planning", Status: plan.StatusDone},
			{ID: "build", Title: "Build", Priority: plan.PriorityHigh, Duration: 5, Dependencies: []string{"design"}, Status: plan.StatusInProgress},
			{ID: "copy", Title: "Write copy", Priority: plan.PriorityLow, Duration: 1, Dependencies: []string{"design"}},
			{ID: "test", Title: "Test", Priority: plan.PriorityMedium, Duration: 1, Dependencies: []string{"build", "copy"}},
		},
	}
}

func analyze(t *testing.T, p *plan.Plan) *Reporter {
	t.Helper()
	res, err := cpm.Analyze(p)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	return New(p, res)
}

func TestPrintPlan(t *testing.T) {
	rpt := analyze(t, makePlan())

	var buf bytes.Buffer
	rpt.PrintPlan(&buf)
	out := buf.String()

	for _, want := range []string{
		"Launch the website",
		"Deadline:  2026-12-01",
		"Duration:  8 days",
		"Design → Build → Test",
		"Wave 1",
		"Wave 3",
		"slack 4",
		"Write copy",
		"Schedule:  📅 2026-11-02 → 2026-11-10",
		"Fits the deadline with 21 days to spare",
		"📅 2026-11-04 → 2026-11-09",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q\n%s", want, out)
		}
	}
}

func TestPrintPlan_DeadlineOverrun(t *testing.T) {
	p := makePlan()
	p.Deadline = "2026-11-06"
	p.Risks = []string{"Hosting provider migration"}
	p.Recommendations = []string{"Freeze scope after design"}
	rpt := analyze(t, p)

	var buf bytes.Buffer
	rpt.PrintPlan(&buf)
	out := buf.String()

	for _, want := range []string{
		"Finishes 4 days after the 2026-11-06 deadline",
		"Recommendations",
		"• Freeze scope after design",
		"Risk factors",
		"• Hosting provider migration",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "Fits the deadline") {
		t.Errorf("overrunning plan reported as fitting:\n%s", out)
	}
}

func TestPrintPlan_WithoutAnalysis(t *testing.T) {
	var buf bytes.Buffer
	New(makePlan(), nil).PrintPlan(&buf)
	if !strings.Contains(buf.String(), "Write copy") {
		t.Errorf("tasks should be listed without analysis:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Critical path") {
		t.Error("no critical path without analysis")
	}
}

func TestPrintASCIIDAG(t *testing.T) {
	rpt := analyze(t, makePlan())

	var buf bytes.Buffer
	rpt.PrintASCIIDAG(&buf)
	out := buf.String()

	if !strings.Contains(out, "└──→ Build") || !strings.Contains(out, "└──→ Write copy") {
		t.Errorf("expected edges from Design:\n%s", out)
	}
	if strings.Count(out, "Wave") != 3 {
		t.Errorf("expected 3 waves:\n%s", out)
	}
}

func TestWriteDOT(t *testing.T) {
	rpt := analyze(t, makePlan())

	var buf bytes.Buffer
	if err := rpt.WriteDOT(&buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "digraph goalplan {") || !strings.HasSuffix(out, "}\n") {
		t.Errorf("not a digraph:\n%s", out)
	}
	if !strings.Contains(out, `"design" -> "build" [color=red, penwidth=2];`) {
		t.Errorf("critical edge should be red:\n%s", out)
	}
	if !strings.Contains(out, `"design" -> "copy";`) {
		t.Errorf("non-critical edge should be plain:\n%s", out)
	}
	if !strings.Contains(out, `label="Design\n2 days"`) {
		t.Errorf("expected escaped label:\n%s", out)
	}
}

func TestJSON(t *testing.T) {
	rpt := analyze(t, makePlan())

	data, err := rpt.JSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	analysis := parsed["analysis"].(map[string]any)
	if analysis["total_duration"] != float64(8) {
		t.Errorf("expected total_duration 8, got %v", analysis["total_duration"])
	}
	schedule := parsed["schedule"].(map[string]any)
	if schedule["projected_finish"] != "2026-11-10" {
		t.Errorf("unexpected schedule %v", schedule)
	}
	deadline := schedule["deadline"].(map[string]any)
	if deadline["overrun_days"] != float64(0) || deadline["available_days"] != float64(29) {
		t.Errorf("unexpected deadline check %v", deadline)
	}
	progress := parsed["progress"].(map[string]any)
	if progress["done"] != float64(1) || progress["in_progress"] != float64(1) {
		t.Errorf("unexpected progress %v", progress)
	}
}

func TestPrintDiagnostics(t *testing.T) {
	var buf bytes.Buffer
	PrintDiagnostics(&buf, planner.Diagnostics{
		Fallback: true,
		Reason:   planner.FailureTimeout,
		Detail:   "context deadline exceeded",
		Rejected: []plan.RecordError{{Position: 2, Reason: "missing title"}},
		Dropped:  []resolver.Drop{{Task: "Build", Ref: "Deploy", Reason: resolver.ReasonUnknown}},
	})
	out := buf.String()

	for _, want := range []string{"fallback plan", "timeout", "record 2: missing title", `"Deploy" on "Build"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}

	buf.Reset()
	PrintDiagnostics(&buf, planner.Diagnostics{})
	if buf.Len() != 0 {
		t.Errorf("clean diagnostics should print nothing, got %q", buf.String())
	}
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	PrintProgress(&buf, store.ComputeProgress(makePlan().Tasks))
	out := buf.String()
	if !strings.Contains(out, "25%") || !strings.Contains(out, "1/4 done") || !strings.Contains(out, "1 in progress") {
		t.Errorf("unexpected progress line %q", out)
	}
}

func TestPrintProjects(t *testing.T) {
	var buf bytes.Buffer
	PrintProjects(&buf, nil)
	if !strings.Contains(buf.String(), "No projects yet") {
		t.Errorf("expected empty hint, got %q", buf.String())
	}

	buf.Reset()
	PrintProjects(&buf, []store.ProjectSummary{
		{ID: 7, Goal: "Ship it", Source: plan.SourceFallback, CreatedAt: time.Now(), Progress: store.Progress{Total: 2, Done: 1, Percent: 50}},
	})
	out := buf.String()
	if !strings.Contains(out, "#7") || !strings.Contains(out, "Ship it") || !strings.Contains(out, "50%") {
		t.Errorf("unexpected listing:\n%s", out)
	}
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	PrintStats(&buf, &store.Stats{
		Projects: 2, Active: 1, Completed: 1, Tasks: 4, Done: 3, CompletionRate: 75,
		ByStatus:   map[plan.Status]int{plan.StatusDone: 3, plan.StatusBlocked: 1},
		ByPriority: map[plan.Priority]int{plan.PriorityHigh: 4},
	})
	out := buf.String()
	for _, want := range []string{"Projects:  2 (1 active, 1 completed)", "Tasks:     4 (3 done, 75.0% complete)", "done", "blocked", "high 4"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "pending") {
		t.Errorf("empty statuses should be skipped:\n%s", out)
	}

	buf.Reset()
	PrintStats(&buf, &store.Stats{})
	if strings.Contains(buf.String(), "By status") {
		t.Errorf("expected no distributions without tasks:\n%s", buf.String())
	}
}

func TestDays(t *testing.T) {
	tests := map[float64]string{1: "1 day", 2: "2 days", 0.5: "0.5 days", 1.25: "1.25 days", 0: "0 days"}
	for in, want := range tests {
		if got := Days(in); got != want {
			t.Errorf("Days(%v) = %q, want %q", in, got, want)
		}
	}
}
