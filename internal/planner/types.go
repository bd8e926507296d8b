package planner

import (
	"context"
	"log/slog"
	"time"

	"github.com/joshharrison/goalplan/internal/metrics"
	"github.com/joshharrison/goalplan/internal/plan"
	"github.com/joshharrison/goalplan/internal/resolver"
)

// GenerateParams are the sampling parameters passed to the text generator.
type GenerateParams struct {
	MaxTokens   int
	Temperature float64
}

// TextGenerator is the external language model. It returns raw text that
// should contain a task list, possibly surrounded by prose.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, params GenerateParams) (string, error)
}

// GeneratorFunc adapts a plain function to TextGenerator.
type GeneratorFunc func(ctx context.Context, prompt string, params GenerateParams) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, params GenerateParams) (string, error) {
	return f(ctx, prompt, params)
}

// Request is a single plan generation request.
type Request struct {
	Goal     string
	Context  string
	Deadline string // optional, YYYY-MM-DD
}

// Config holds planner settings. Zero values fall back to the defaults below.
type Config struct {
	Timeout            time.Duration
	MaxTokens          int
	Temperature        *float64 // nil means DefaultTemperature; 0 is kept
	MaxRejectRatio     float64
	FallbackTaskDays   float64
	PromptTemplatePath string

	NewID   func() string
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

const (
	DefaultTimeout          = 60 * time.Second
	DefaultMaxTokens        = 3000
	DefaultTemperature      = 0.3
	DefaultFallbackTaskDays = 2.0
)

// FailureKind names why generation fell back.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureGenerator     FailureKind = "generator_error"
	FailureTimeout       FailureKind = "timeout"
	FailureEmptyResponse FailureKind = "empty_response"
	FailureNoPayload     FailureKind = "no_payload"
	FailureMalformed     FailureKind = "malformed"
	FailureCyclic        FailureKind = "cyclic"
)

// Diagnostics describes how a plan was produced.
type Diagnostics struct {
	Fallback    bool               `json:"fallback"`
	Reason      FailureKind        `json:"reason,omitempty"`
	Detail      string             `json:"detail,omitempty"`
	RawResponse string             `json:"raw_response,omitempty"`
	Dropped     []resolver.Drop    `json:"dropped,omitempty"`
	Rejected    []plan.RecordError `json:"rejected,omitempty"`
	Elapsed     time.Duration      `json:"elapsed"`
}

// Result is the outcome of Generate. Plan is always usable.
type Result struct {
	Plan        *plan.Plan
	Diagnostics Diagnostics
}
