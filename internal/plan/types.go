package plan

import (
	"strings"
	"time"
)

// Priority is the ordered importance category of a task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns 0 (low) through 3 (critical). Unknown priorities rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 1
	}
}

// ParsePriority matches s case-insensitively against the known categories.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return p, true
	}
	return PriorityMedium, false
}

// Status is maintained by the surrounding application. Analysis ignores it.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// ParseStatus accepts the four statuses plus "completed" as an alias for done.
func ParseStatus(s string) (Status, bool) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "pending", "in_progress", "done", "blocked":
		return Status(v), true
	case "completed":
		return StatusDone, true
	case "in-progress":
		return StatusInProgress, true
	}
	return "", false
}

// Source records how a plan came into being.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
	SourceManual    Source = "manual"
)

// Task is a single unit of work inside a plan.
type Task struct {
	ID           string   `json:"id" yaml:"id"`
	Title        string   `json:"title" yaml:"title"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Category     string   `json:"category,omitempty" yaml:"category,omitempty"`
	Priority     Priority `json:"priority" yaml:"priority"`
	Duration     float64  `json:"duration" yaml:"duration"` // days
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Status       Status   `json:"status" yaml:"status"`
}

// Plan is an ordered collection of tasks for one goal. Declaration order is
// significant: analysis breaks ties by it.
type Plan struct {
	Goal      string    `json:"goal" yaml:"goal"`
	Context   string    `json:"context,omitempty" yaml:"context,omitempty"`
	Deadline  string    `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Source    Source    `json:"source" yaml:"source"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Tasks     []Task    `json:"tasks" yaml:"tasks"`

	Risks           []string `json:"risk_factors,omitempty" yaml:"risk_factors,omitempty"`
	Recommendations []string `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// Task returns the task with the given id, or nil.
func (p *Plan) Task(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// Titles maps task ids to titles for display.
func (p *Plan) Titles() map[string]string {
	m := make(map[string]string, len(p.Tasks))
	for _, t := range p.Tasks {
		m[t.ID] = t.Title
	}
	return m
}

// TotalWork is the sum of all task durations, ignoring parallelism.
func (p *Plan) TotalWork() float64 {
	var sum float64
	for _, t := range p.Tasks {
		sum += t.Duration
	}
	return sum
}
