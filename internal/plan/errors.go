package plan

import (
	"fmt"
	"strings"
)

// RecordError describes one generator record rejected by schema validation.
type RecordError struct {
	Position int    `json:"position"` // 1-based position in the generator's list
	Reason   string `json:"reason"`
}

func (e RecordError) String() string {
	return fmt.Sprintf("record %d: %s", e.Position, e.Reason)
}

// MalformedPlanError reports generator output that does not have the shape of
// a task list, or has too many individually broken records.
type MalformedPlanError struct {
	Reason   string
	Rejected []RecordError
}

func (e *MalformedPlanError) Error() string {
	if len(e.Rejected) == 0 {
		return "malformed plan: " + e.Reason
	}
	parts := make([]string, len(e.Rejected))
	for i, r := range e.Rejected {
		parts[i] = r.String()
	}
	return fmt.Sprintf("malformed plan: %s (%s)", e.Reason, strings.Join(parts, "; "))
}

// CyclicDependencyError reports a dependency cycle. Cycle holds task titles
// in dependency order with the first title repeated at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "circular dependency: " + strings.Join(e.Cycle, " → ")
}

// InvalidPlanError is returned by analysis when a plan breaks the DAG or
// referential invariants. Reaching it means validation was skipped upstream.
type InvalidPlanError struct {
	Reason string
	Err    error
}

func (e *InvalidPlanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid plan: %s: %v", e.Reason, e.Err)
	}
	return "invalid plan: " + e.Reason
}

func (e *InvalidPlanError) Unwrap() error {
	return e.Err
}
