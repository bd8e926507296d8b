package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joshharrison/goalplan/internal/cpm"
	"github.com/joshharrison/goalplan/internal/metrics"
	"github.com/joshharrison/goalplan/internal/plan"
)

func counterIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}
}

func respond(text string) GeneratorFunc {
	return func(ctx context.Context, prompt string, params GenerateParams) (string, error) {
		return text, nil
	}
}

func newTestPlanner(gen TextGenerator, m *metrics.Metrics) *Planner {
	return New(gen, Config{Timeout: time.Second, NewID: counterIDs(), Metrics: m})
}

func assertFallback(t *testing.T, result *Result, reason FailureKind) {
	t.Helper()
	if !result.Diagnostics.Fallback || result.Diagnostics.Reason != reason {
		t.Fatalf("expected fallback with reason %s, got %+v", reason, result.Diagnostics)
	}
	p := result.Plan
	if p.Source != plan.SourceFallback {
		t.Errorf("expected fallback source, got %s", p.Source)
	}
	if len(p.Risks) != 1 || len(p.Recommendations) != 1 {
		t.Errorf("expected fallback notes, got %v / %v", p.Risks, p.Recommendations)
	}
	if len(p.Tasks) != len(fallbackPhases) {
		t.Fatalf("expected %d fallback tasks, got %d", len(fallbackPhases), len(p.Tasks))
	}
	for i, task := range p.Tasks {
		if task.Title != fallbackPhases[i].title {
			t.Errorf("task %d: expected title %q, got %q", i, fallbackPhases[i].title, task.Title)
		}
		if task.Duration != DefaultFallbackTaskDays {
			t.Errorf("task %d: expected uniform duration %v, got %v", i, DefaultFallbackTaskDays, task.Duration)
		}
		if i == 0 && len(task.Dependencies) != 0 {
			t.Errorf("first fallback task should have no dependencies, got %v", task.Dependencies)
		}
		if i > 0 && (len(task.Dependencies) != 1 || task.Dependencies[0] != p.Tasks[i-1].ID) {
			t.Errorf("task %d should depend only on its predecessor, got %v", i, task.Dependencies)
		}
	}
}

const wrappedResponse = "Sure! Here is the plan with [3] tasks:\n\n" + "```json" + `
{
  "tasks": [
    {"title": "Design", "duration": 2, "priority": "high", "dependencies": []},
    {"title": "Build", "duration": "5 days", "dependencies": ["Design", "Buy servers"]},
    {"title": "Test", "duration": 1, "dependencies": ["build"]},
  ]
}
` + "```" + "\n\nLet me know if you need changes."

func TestGenerate_ProseWrappedResponse(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p := newTestPlanner(respond(wrappedResponse), m)

	result, err := p.Generate(context.Background(), Request{Goal: "  Launch the beta  ", Deadline: "2026-12-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Diagnostics.Fallback {
		t.Fatalf("unexpected fallback: %+v", result.Diagnostics)
	}

	pl := result.Plan
	if pl.Source != plan.SourceGenerated || pl.Goal != "Launch the beta" || pl.Deadline != "2026-12-01" {
		t.Errorf("unexpected plan header: %+v", pl)
	}
	if len(pl.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(pl.Tasks))
	}
	if pl.Tasks[0].ID != "task-1" || pl.Tasks[1].Duration != 5 {
		t.Errorf("unexpected tasks: %+v", pl.Tasks)
	}
	if len(pl.Tasks[2].Dependencies) != 1 || pl.Tasks[2].Dependencies[0] != "task-2" {
		t.Errorf("expected Test to depend on Build, got %v", pl.Tasks[2].Dependencies)
	}
	if len(result.Diagnostics.Dropped) != 1 || result.Diagnostics.Dropped[0].Ref != "Buy servers" {
		t.Errorf("expected one dropped reference, got %v", result.Diagnostics.Dropped)
	}

	analysis, err := cpm.Analyze(pl)
	if err != nil {
		t.Fatalf("generated plan should analyze cleanly: %v", err)
	}
	if analysis.TotalDuration != 8 {
		t.Errorf("expected total duration 8, got %v", analysis.TotalDuration)
	}

	if got := testutil.ToFloat64(m.PlanGenerations.WithLabelValues("generated")); got != 1 {
		t.Errorf("PlanGenerations generated = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DroppedReferences); got != 1 {
		t.Errorf("DroppedReferences = %v, want 1", got)
	}
}

func TestGenerate_PassesParamsAndPrompt(t *testing.T) {
	var gotPrompt string
	var gotParams GenerateParams
	gen := GeneratorFunc(func(ctx context.Context, prompt string, params GenerateParams) (string, error) {
		gotPrompt, gotParams = prompt, params
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected generator context to carry a deadline")
		}
		return `[{"title": "Only", "duration": 1}]`, nil
	})

	p := New(gen, Config{})
	if _, err := p.Generate(context.Background(), Request{Goal: "Write a novel", Context: "First draft only"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotParams.MaxTokens != DefaultMaxTokens || gotParams.Temperature != DefaultTemperature {
		t.Errorf("unexpected params: %+v", gotParams)
	}
	if !strings.Contains(gotPrompt, "Write a novel") || !strings.Contains(gotPrompt, "First draft only") {
		t.Errorf("prompt missing goal or context:\n%s", gotPrompt)
	}
}

func TestGenerate_ZeroTemperatureIsKept(t *testing.T) {
	got := -1.0
	gen := GeneratorFunc(func(ctx context.Context, prompt string, params GenerateParams) (string, error) {
		got = params.Temperature
		return `[{"title": "Only", "duration": 1}]`, nil
	})

	zero := 0.0
	p := New(gen, Config{Temperature: &zero})
	if _, err := p.Generate(context.Background(), Request{Goal: "Deterministic"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("expected temperature 0 to reach the generator, got %v", got)
	}
}

func TestGenerate_KeepsRisksAndRecommendations(t *testing.T) {
	p := newTestPlanner(respond(`{
		"tasks": [{"title": "Book venue", "duration": 1}],
		"risk_factors": ["Venues book out early"],
		"recommendations": ["Call three venues this week"]
	}`), nil)

	result, err := p.Generate(context.Background(), Request{Goal: "Host a meetup"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pl := result.Plan
	if len(pl.Risks) != 1 || pl.Risks[0] != "Venues book out early" {
		t.Errorf("unexpected risks %v", pl.Risks)
	}
	if len(pl.Recommendations) != 1 || pl.Recommendations[0] != "Call three venues this week" {
		t.Errorf("unexpected recommendations %v", pl.Recommendations)
	}
}

func TestExcerpt_KeepsRunesWhole(t *testing.T) {
	s := strings.Repeat("a", maxLoggedResponse-1) + "é" + "tail"
	got := excerpt(s)
	if !utf8.ValidString(got) {
		t.Fatalf("excerpt split a rune: %q", got[len(got)-8:])
	}
	if want := strings.Repeat("a", maxLoggedResponse-1) + "..."; got != want {
		t.Errorf("expected cut before the two-byte rune, got %d bytes", len(got))
	}
	if short := "héllo"; excerpt(short) != short {
		t.Errorf("short text should be returned as is")
	}
}

func TestGenerate_TimeoutFallsBack(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// Ignores ctx entirely, so only the planner's own deadline can release the caller.
	stuck := GeneratorFunc(func(ctx context.Context, prompt string, params GenerateParams) (string, error) {
		<-release
		return "", nil
	})

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	p := New(stuck, Config{Timeout: 20 * time.Millisecond, Metrics: m})

	start := time.Now()
	result, err := p.Generate(context.Background(), Request{Goal: "Ship v2"})
	if err != nil {
		t.Fatalf("timeout must not surface as an error: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("generate was not bounded by the timeout")
	}
	assertFallback(t, result, FailureTimeout)
	if !strings.Contains(result.Plan.Tasks[0].Description, "Ship v2") {
		t.Errorf("expected goal in first fallback task description, got %q", result.Plan.Tasks[0].Description)
	}
	if got := testutil.ToFloat64(m.Fallbacks.WithLabelValues("timeout")); got != 1 {
		t.Errorf("Fallbacks timeout = %v, want 1", got)
	}
}

func TestGenerate_FailuresFallBack(t *testing.T) {
	tests := []struct {
		name   string
		gen    TextGenerator
		reason FailureKind
	}{
		{
			name: "generator error",
			gen: GeneratorFunc(func(ctx context.Context, prompt string, params GenerateParams) (string, error) {
				return "", errors.New("connection refused")
			}),
			reason: FailureGenerator,
		},
		{
			name: "deadline from generator",
			gen: GeneratorFunc(func(ctx context.Context, prompt string, params GenerateParams) (string, error) {
				return "", fmt.Errorf("request: %w", context.DeadlineExceeded)
			}),
			reason: FailureTimeout,
		},
		{"nil generator", nil, FailureGenerator},
		{"empty response", respond("   \n"), FailureEmptyResponse},
		{"no payload", respond("I'm sorry, I can't help with planning today."), FailureNoPayload},
		{"malformed", respond(`{"tasks": [{"title": "A"}, {"title": "B", "duration": "later"}]}`), FailureMalformed},
		{"not a task list", respond(`{"summary": "do it"}`), FailureMalformed},
		{"cyclic", respond(`[
			{"title": "A", "duration": 1, "dependencies": ["B"]},
			{"title": "B", "duration": 1, "dependencies": ["A"]}
		]`), FailureCyclic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(tt.gen, nil)
			result, err := p.Generate(context.Background(), Request{Goal: "Plan a wedding"})
			if err != nil {
				t.Fatalf("failure must not surface as an error: %v", err)
			}
			assertFallback(t, result, tt.reason)
			if result.Diagnostics.Detail == "" {
				t.Error("expected failure detail")
			}
		})
	}
}

func TestGenerate_MalformedKeepsDiagnostics(t *testing.T) {
	raw := `{"tasks": [{"title": "A"}, {"title": "B", "duration": 0}, {"title": "C", "duration": 1}]}`
	p := newTestPlanner(respond(raw), nil)

	result, err := p.Generate(context.Background(), Request{Goal: "Move house"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Diagnostics.RawResponse != raw {
		t.Errorf("expected raw response kept, got %q", result.Diagnostics.RawResponse)
	}
	if len(result.Diagnostics.Rejected) != 2 {
		t.Errorf("expected 2 rejected records, got %v", result.Diagnostics.Rejected)
	}
}

func TestGenerate_EmptyGoal(t *testing.T) {
	p := newTestPlanner(respond("[]"), nil)
	if _, err := p.Generate(context.Background(), Request{Goal: "   "}); !errors.Is(err, ErrEmptyGoal) {
		t.Fatalf("expected ErrEmptyGoal, got %v", err)
	}
}

func TestGenerate_BadTemplateFallsBack(t *testing.T) {
	p := New(respond(wrappedResponse), Config{PromptTemplatePath: "/nonexistent/prompt.tmpl"})
	result, err := p.Generate(context.Background(), Request{Goal: "Learn Go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertFallback(t, result, FailureGenerator)
}

func TestFallback_RoundTrip(t *testing.T) {
	for _, goal := range []string{"Ship v2", "", `Quote "this" {and} [that]`} {
		pl, res, err := Fallback(goal, 3, counterIDs())
		if err != nil {
			t.Fatalf("goal %q: fallback failed: %v", goal, err)
		}
		if len(res.Dropped) != 0 {
			t.Errorf("goal %q: expected zero dropped references, got %v", goal, res.Dropped)
		}
		for _, task := range pl.Tasks {
			if task.Duration != 3 {
				t.Errorf("goal %q: expected duration 3, got %v", goal, task.Duration)
			}
		}

		// And again through the re-validation entry point.
		_, v, err := ValidateAndResolve(FallbackPayload(goal, 3), ValidateOptions{})
		if err != nil {
			t.Fatalf("goal %q: re-validation failed: %v", goal, err)
		}
		if len(v.Rejected) != 0 || len(v.Dropped) != 0 {
			t.Errorf("goal %q: expected clean round trip, got %+v", goal, v)
		}
	}
}

func TestFallbackPayload_BadDaysUseDefault(t *testing.T) {
	pl, _, err := Fallback("x", -1, counterIDs())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pl.Tasks[0].Duration != DefaultFallbackTaskDays {
		t.Errorf("expected default duration, got %v", pl.Tasks[0].Duration)
	}
}

func TestValidateAndResolve_SurfacesErrors(t *testing.T) {
	_, _, err := ValidateAndResolve([]byte(`[
		{"title": "Task A", "duration": 1, "dependencies": ["Task C"]},
		{"title": "Task B", "duration": 1},
		{"title": "Task C", "duration": 1, "dependencies": ["Task A"]}
	]`), ValidateOptions{})
	var cycErr *plan.CyclicDependencyError
	if !errors.As(err, &cycErr) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if !strings.Contains(cycErr.Error(), "Task A") || !strings.Contains(cycErr.Error(), "Task C") {
		t.Errorf("cycle message should name both tasks: %v", cycErr)
	}

	_, _, err = ValidateAndResolve([]byte(`not json`), ValidateOptions{})
	var malErr *plan.MalformedPlanError
	if !errors.As(err, &malErr) {
		t.Fatalf("expected MalformedPlanError, got %v", err)
	}
}

func TestValidateAndResolve_EditedExport(t *testing.T) {
	original := &plan.Plan{Tasks: []plan.Task{
		{ID: "x1", Title: "Review", Duration: 1, Priority: plan.PriorityLow},
		{ID: "x2", Title: "Review", Duration: 2, Priority: plan.PriorityHigh, Dependencies: []string{"x1"}},
		{ID: "x3", Title: "Publish", Duration: 1, Dependencies: []string{"x2", "x1"}},
	}}
	raw, err := plan.MarshalDraft(original)
	if err != nil {
		t.Fatalf("marshal draft: %v", err)
	}

	pl, v, err := ValidateAndResolve(raw, ValidateOptions{NewID: counterIDs()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v.Dropped) != 0 {
		t.Errorf("expected no drops, got %v", v.Dropped)
	}
	if pl.Source != plan.SourceManual {
		t.Errorf("expected manual source, got %s", pl.Source)
	}
	deps := pl.Tasks[2].Dependencies
	if len(deps) != 2 || deps[0] != "task-2" || deps[1] != "task-1" {
		t.Errorf("duplicate titles should round-trip by position, got %v", deps)
	}
}

func TestValidateAndResolve_KeepsStatuses(t *testing.T) {
	original := &plan.Plan{Tasks: []plan.Task{
		{ID: "a", Title: "Outline", Duration: 1, Status: plan.StatusDone},
		{ID: "b", Title: "Draft", Duration: 2, Status: plan.StatusInProgress, Dependencies: []string{"a"}},
		{ID: "c", Title: "Edit", Duration: 1, Status: plan.StatusBlocked, Dependencies: []string{"b"}},
		{ID: "d", Title: "Publish", Duration: 1, Dependencies: []string{"c"}},
	}}
	raw, err := plan.MarshalDraft(original)
	if err != nil {
		t.Fatalf("marshal draft: %v", err)
	}

	pl, _, err := ValidateAndResolve(raw, ValidateOptions{NewID: counterIDs()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []plan.Status{plan.StatusDone, plan.StatusInProgress, plan.StatusBlocked, plan.StatusPending}
	for i, w := range want {
		if pl.Tasks[i].Status != w {
			t.Errorf("task %q: expected status %s, got %s", pl.Tasks[i].Title, w, pl.Tasks[i].Status)
		}
	}
}

func TestValidateAndResolve_AcceptsComments(t *testing.T) {
	raw := []byte(`{
		// edited by hand
		"tasks": [
			{"title": "Draft", "duration": 1},
			{"title": "Edit", "duration": 2, "dependencies": ["Draft"],},
		],
	}`)
	pl, _, err := ValidateAndResolve(raw, ValidateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pl.Tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(pl.Tasks))
	}
}
