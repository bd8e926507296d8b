package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/jsonc"

	"github.com/joshharrison/goalplan/internal/logging"
	"github.com/joshharrison/goalplan/internal/plan"
	"github.com/joshharrison/goalplan/internal/resolver"
	"github.com/joshharrison/goalplan/internal/schema"
)

// ErrEmptyGoal is returned by Generate when the goal is blank.
var ErrEmptyGoal = errors.New("goal is required")

// maxLoggedResponse caps the raw response excerpt written to logs.
const maxLoggedResponse = 2000

// Planner turns goals into validated plans. It holds no per-call state and
// is safe for concurrent use.
type Planner struct {
	gen TextGenerator
	cfg Config
}

// New creates a Planner. gen may be nil, in which case every request gets
// the fallback plan.
func New(gen TextGenerator, cfg Config) *Planner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Temperature == nil {
		t := DefaultTemperature
		cfg.Temperature = &t
	}
	if cfg.MaxRejectRatio <= 0 {
		cfg.MaxRejectRatio = schema.DefaultMaxRejectRatio
	}
	if !(cfg.FallbackTaskDays > 0) {
		cfg.FallbackTaskDays = DefaultFallbackTaskDays
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Planner{gen: gen, cfg: cfg}
}

// failure is an internal generation failure that leads to the fallback plan.
type failure struct {
	kind     FailureKind
	err      error
	raw      string
	rejected []plan.RecordError
}

// Generate produces a plan for req. Generator, extraction, validation and
// cycle failures are absorbed: the fallback plan is returned and the reason
// is recorded in Diagnostics. The only error is ErrEmptyGoal.
func (p *Planner) Generate(ctx context.Context, req Request) (*Result, error) {
	req.Goal = strings.TrimSpace(req.Goal)
	if req.Goal == "" {
		return nil, ErrEmptyGoal
	}
	start := p.cfg.Now()
	log := p.cfg.Logger.With("goal", req.Goal)

	generated, v, fail := p.attempt(ctx, req)
	if fail == nil {
		tasks := generated.Tasks
		result := &Result{
			Plan: p.newPlan(req, plan.SourceGenerated, generated),
			Diagnostics: Diagnostics{
				Dropped:  v.Dropped,
				Rejected: v.Rejected,
				Elapsed:  p.cfg.Now().Sub(start),
			},
		}
		p.cfg.Metrics.RecordValidation(len(v.Rejected), len(v.Dropped))
		p.cfg.Metrics.RecordGeneration(string(plan.SourceGenerated), len(tasks))
		log.Info("plan generated",
			"tasks", len(tasks),
			"dropped_refs", len(v.Dropped),
			"rejected_records", len(v.Rejected))
		return result, nil
	}

	fb, _, err := Fallback(req.Goal, p.cfg.FallbackTaskDays, p.cfg.NewID)
	if err != nil {
		// Only reachable when NewID hands out duplicate ids.
		return nil, fmt.Errorf("build fallback plan: %w", err)
	}
	result := &Result{
		Plan: p.newPlan(req, plan.SourceFallback, fb),
		Diagnostics: Diagnostics{
			Fallback:    true,
			Reason:      fail.kind,
			Detail:      fail.err.Error(),
			RawResponse: fail.raw,
			Rejected:    fail.rejected,
			Elapsed:     p.cfg.Now().Sub(start),
		},
	}
	p.cfg.Metrics.RecordFallback(string(fail.kind))
	p.cfg.Metrics.RecordGeneration(string(plan.SourceFallback), len(fb.Tasks))
	log.Warn("generation failed, using fallback plan",
		"reason", fail.kind,
		"error", fail.err,
		"raw_response", excerpt(fail.raw))
	return result, nil
}

func (p *Planner) attempt(ctx context.Context, req Request) (*plan.Plan, *Validation, *failure) {
	if p.gen == nil {
		return nil, nil, &failure{kind: FailureGenerator, err: errors.New("no text generator configured")}
	}

	prompt, err := RenderPrompt(PromptData{
		Goal:     req.Goal,
		Context:  strings.TrimSpace(req.Context),
		Deadline: strings.TrimSpace(req.Deadline),
		MinTasks: 5,
		MaxTasks: 8,
	}, p.cfg.PromptTemplatePath)
	if err != nil {
		return nil, nil, &failure{kind: FailureGenerator, err: err}
	}

	text, err := p.call(ctx, prompt)
	if err != nil {
		kind := FailureGenerator
		if errors.Is(err, context.DeadlineExceeded) {
			kind = FailureTimeout
		}
		return nil, nil, &failure{kind: kind, err: err}
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, &failure{kind: FailureEmptyResponse, err: errors.New("generator returned empty text")}
	}

	payload, err := ExtractPayload(text)
	if err != nil {
		return nil, nil, &failure{kind: FailureNoPayload, err: err, raw: text}
	}

	generated, v, err := validateAndResolve(payload, p.cfg.MaxRejectRatio, p.cfg.NewID)
	if err != nil {
		fail := &failure{kind: FailureMalformed, err: err, raw: text}
		var cycErr *plan.CyclicDependencyError
		var malErr *plan.MalformedPlanError
		switch {
		case errors.As(err, &cycErr):
			fail.kind = FailureCyclic
		case errors.As(err, &malErr):
			fail.rejected = malErr.Rejected
		}
		return nil, nil, fail
	}
	return generated, v, nil
}

type callResult struct {
	text string
	err  error
}

// call invokes the generator under the configured timeout. The caller is
// released when the deadline passes even if the generator ignores ctx.
func (p *Planner) call(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	params := GenerateParams{MaxTokens: p.cfg.MaxTokens, Temperature: *p.cfg.Temperature}
	done := make(chan callResult, 1)
	start := p.cfg.Now()
	go func() {
		text, err := p.gen.Generate(callCtx, prompt, params)
		done <- callResult{text, err}
	}()

	var r callResult
	select {
	case r = <-done:
	case <-callCtx.Done():
		r = callResult{err: callCtx.Err()}
	}
	if r.err != nil && callCtx.Err() != nil {
		r.err = fmt.Errorf("generator call: %w", callCtx.Err())
	}
	p.cfg.Metrics.ObserveGenerator(r.err == nil, p.cfg.Now().Sub(start).Seconds())
	return r.text, r.err
}

// newPlan fills the request header into a validated plan body.
func (p *Planner) newPlan(req Request, source plan.Source, body *plan.Plan) *plan.Plan {
	return &plan.Plan{
		Goal:            req.Goal,
		Context:         strings.TrimSpace(req.Context),
		Deadline:        strings.TrimSpace(req.Deadline),
		Source:          source,
		CreatedAt:       p.cfg.Now().UTC(),
		Tasks:           body.Tasks,
		Risks:           body.Risks,
		Recommendations: body.Recommendations,
	}
}

// Validation lists what was discarded on the way from a payload to a plan.
type Validation struct {
	Rejected []plan.RecordError `json:"rejected,omitempty"`
	Dropped  []resolver.Drop    `json:"dropped,omitempty"`
}

// ValidateOptions tunes ValidateAndResolve.
type ValidateOptions struct {
	MaxRejectRatio float64
	NewID          func() string
}

// ValidateAndResolve runs a generator-shaped JSON document (for example a
// hand-edited plan.MarshalDraft export) through the validator and resolver.
// Unlike Generate it never falls back: *plan.MalformedPlanError and
// *plan.CyclicDependencyError are returned to the caller.
func ValidateAndResolve(raw []byte, opts ValidateOptions) (*plan.Plan, *Validation, error) {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	p, v, err := validateAndResolve(jsonc.ToJSON(raw), opts.MaxRejectRatio, opts.NewID)
	if err != nil {
		return nil, nil, err
	}
	p.Source = plan.SourceManual
	return p, v, nil
}

func validateAndResolve(payload []byte, ratio float64, newID func() string) (*plan.Plan, *Validation, error) {
	report, err := schema.Validate(payload, schema.Options{MaxRejectRatio: ratio})
	if err != nil {
		return nil, nil, err
	}
	res, err := resolver.Resolve(report.Drafts, newIDs(len(report.Drafts), newID))
	if err != nil {
		return nil, nil, err
	}
	p := &plan.Plan{Tasks: res.Tasks, Risks: report.Risks, Recommendations: report.Recommendations}
	return p, &Validation{Rejected: report.Rejected, Dropped: res.Dropped}, nil
}

// excerpt caps s at maxLoggedResponse bytes without splitting a rune.
func excerpt(s string) string {
	if len(s) <= maxLoggedResponse {
		return s
	}
	cut := maxLoggedResponse
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
