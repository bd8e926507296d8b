// Package schema validates raw task records produced by the plan generator
// and turns them into typed drafts. It never assigns ids and never resolves
// dependencies; references are passed through as text.
package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/joshharrison/goalplan/internal/plan"
)

// DefaultMaxRejectRatio is the share of individually rejected records above
// which the whole batch is rejected.
const DefaultMaxRejectRatio = 0.5

// Options tunes validation.
type Options struct {
	// MaxRejectRatio in [0,1]. Zero means DefaultMaxRejectRatio.
	MaxRejectRatio float64
}

// Draft is a structurally valid task record that has not been given an id
// yet. Dependencies hold the generator's own references: titles, or 1-based
// positions rendered as decimal text.
type Draft struct {
	Position     int
	Title        string
	Description  string
	Category     string
	Priority     plan.Priority
	Status       plan.Status // pending unless the record carries a known status
	Duration     float64
	Dependencies []string
}

// Report is the outcome of a successful validation.
type Report struct {
	Drafts   []Draft
	Rejected []plan.RecordError
	Total    int // records seen, valid or not

	// Plan-level notes from an object payload. Non-string entries are skipped.
	Risks           []string
	Recommendations []string
}

// Validate checks a JSON payload that is either an array of task records or
// an object with a "tasks" array. Records failing the per-record checks are
// skipped and reported; if none survive, or more than MaxRejectRatio of them
// fail, the whole batch fails with *plan.MalformedPlanError.
func Validate(payload []byte, opts Options) (*Report, error) {
	ratio := opts.MaxRejectRatio
	if ratio <= 0 {
		ratio = DefaultMaxRejectRatio
	}

	if !gjson.ValidBytes(payload) {
		return nil, &plan.MalformedPlanError{Reason: "payload is not valid JSON"}
	}

	root := gjson.ParseBytes(payload)
	var list gjson.Result
	switch {
	case root.IsArray():
		list = root
	case root.IsObject():
		list = root.Get("tasks")
		if !list.IsArray() {
			return nil, &plan.MalformedPlanError{Reason: `payload has no "tasks" array`}
		}
	default:
		return nil, &plan.MalformedPlanError{Reason: "payload is not a sequence of task records"}
	}

	records := list.Array()
	if len(records) == 0 {
		return nil, &plan.MalformedPlanError{Reason: "task list is empty"}
	}

	report := &Report{Total: len(records)}
	if root.IsObject() {
		report.Risks = stringList(firstOf(root, "risk_factors", "risks"))
		report.Recommendations = stringList(root.Get("recommendations"))
	}
	for i, rec := range records {
		d, reason := parseRecord(rec, i+1)
		if reason != "" {
			report.Rejected = append(report.Rejected, plan.RecordError{Position: i + 1, Reason: reason})
			continue
		}
		report.Drafts = append(report.Drafts, d)
	}

	if len(report.Drafts) == 0 {
		return nil, &plan.MalformedPlanError{Reason: "no valid task records", Rejected: report.Rejected}
	}
	if float64(len(report.Rejected))/float64(len(records)) > ratio {
		return nil, &plan.MalformedPlanError{
			Reason:   fmt.Sprintf("%d of %d records rejected", len(report.Rejected), len(records)),
			Rejected: report.Rejected,
		}
	}
	return report, nil
}

func parseRecord(rec gjson.Result, position int) (Draft, string) {
	if !rec.IsObject() {
		return Draft{}, "record is not an object"
	}

	d := Draft{Position: position, Priority: plan.PriorityMedium, Status: plan.StatusPending}

	title := firstOf(rec, "title", "name")
	if title.Type != gjson.String || strings.TrimSpace(title.Str) == "" {
		return Draft{}, "missing title"
	}
	d.Title = strings.TrimSpace(title.Str)

	dur := firstOf(rec, "duration", "estimated_duration", "duration_days")
	switch dur.Type {
	case gjson.Number:
		d.Duration = dur.Num
	case gjson.String:
		v, ok := ParseDuration(dur.Str)
		if !ok {
			return Draft{}, fmt.Sprintf("duration %q is not numeric", dur.Str)
		}
		d.Duration = v
	default:
		return Draft{}, "missing duration"
	}
	if !(d.Duration > 0) || math.IsInf(d.Duration, 0) {
		return Draft{}, fmt.Sprintf("duration %v must be positive", d.Duration)
	}

	if p := rec.Get("priority"); p.Type == gjson.String {
		d.Priority, _ = plan.ParsePriority(p.Str)
	}

	if v := rec.Get("status"); v.Type == gjson.String {
		if s, ok := plan.ParseStatus(v.Str); ok {
			d.Status = s
		}
	}

	if v := rec.Get("description"); v.Type == gjson.String {
		d.Description = strings.TrimSpace(v.Str)
	}
	if v := rec.Get("category"); v.Type == gjson.String {
		d.Category = strings.TrimSpace(v.Str)
	}

	deps, reason := parseDependencies(firstOf(rec, "dependencies", "depends_on"))
	if reason != "" {
		return Draft{}, reason
	}
	d.Dependencies = deps

	return d, ""
}

func parseDependencies(v gjson.Result) ([]string, string) {
	switch {
	case !v.Exists(), v.Type == gjson.Null:
		return nil, ""
	case v.Type == gjson.String:
		if s := strings.TrimSpace(v.Str); s != "" {
			return []string{s}, ""
		}
		return nil, ""
	case v.IsArray():
		var refs []string
		var reason string
		v.ForEach(func(_, item gjson.Result) bool {
			switch item.Type {
			case gjson.String:
				if s := strings.TrimSpace(item.Str); s != "" {
					refs = append(refs, s)
				}
			case gjson.Number:
				if item.Num != math.Trunc(item.Num) {
					reason = fmt.Sprintf("dependency index %v is not an integer", item.Num)
					return false
				}
				refs = append(refs, strconv.FormatInt(int64(item.Num), 10))
			default:
				reason = "dependencies must be titles or indices"
				return false
			}
			return true
		})
		return refs, reason
	default:
		return nil, "dependencies must be a list"
	}
}

// stringList reads a list of strings, or a single string, dropping blanks.
func stringList(v gjson.Result) []string {
	var out []string
	add := func(item gjson.Result) bool {
		if item.Type == gjson.String {
			if s := strings.TrimSpace(item.Str); s != "" {
				out = append(out, s)
			}
		}
		return true
	}
	switch {
	case v.IsArray():
		v.ForEach(func(_, item gjson.Result) bool { return add(item) })
	case v.Type == gjson.String:
		add(v)
	}
	return out
}

// firstOf returns the first present field among keys.
func firstOf(rec gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := rec.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

var durationRe = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*([A-Za-z]*)\s*$`)

// ParseDuration coerces a duration string into days. A bare number is days;
// "d"/"day(s)", "w"/"week(s)" (5 working days) and "h"/"hour(s)" (8 working
// hours per day) are recognised units.
func ParseDuration(s string) (float64, bool) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(m[2]) {
	case "", "d", "day", "days":
		return v, true
	case "w", "wk", "wks", "week", "weeks":
		return v * 5, true
	case "h", "hr", "hrs", "hour", "hours":
		return v / 8, true
	}
	return 0, false
}
