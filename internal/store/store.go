// Package store persists validated plans as projects. It never validates:
// callers run plans through graph.Build (or the planner) before writing.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joshharrison/goalplan/internal/metrics"
	"github.com/joshharrison/goalplan/internal/plan"
)

// ErrNotFound is returned when a project or task id does not exist.
var ErrNotFound = errors.New("not found")

// Project status values.
const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
)

// StatusFor derives a project's status from its tasks.
func StatusFor(tasks []plan.Task) string {
	if len(tasks) == 0 {
		return ProjectActive
	}
	for _, t := range tasks {
		if t.Status != plan.StatusDone {
			return ProjectActive
		}
	}
	return ProjectCompleted
}

// Project is a stored plan.
type Project struct {
	ID     int64     `json:"id" yaml:"id"`
	Status string    `json:"status" yaml:"status"`
	Plan   plan.Plan `json:"plan" yaml:"plan"`
}

// ProjectSummary is one row of a project listing.
type ProjectSummary struct {
	ID        int64       `json:"id"`
	Goal      string      `json:"goal"`
	Deadline  string      `json:"deadline,omitempty"`
	Source    plan.Source `json:"source"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	Progress  Progress    `json:"progress"`
}

// Store is the project record store.
type Store interface {
	// CreateProject saves p and returns the new project id.
	CreateProject(ctx context.Context, p *plan.Plan) (int64, error)
	Project(ctx context.Context, id int64) (*Project, error)
	// Projects lists all projects, newest first.
	Projects(ctx context.Context) ([]ProjectSummary, error)
	UpdateTaskStatus(ctx context.Context, projectID int64, taskID string, status plan.Status) error
	// ReplaceTasks swaps the whole task list, e.g. after a re-validated edit.
	ReplaceTasks(ctx context.Context, projectID int64, tasks []plan.Task) error
	DeleteProject(ctx context.Context, id int64) error
	Close() error
}

// Config selects a backend.
type Config struct {
	Driver  string // "sqlite" or "json"
	Path    string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Open opens the configured backend, instrumented with cfg.Metrics.
func Open(cfg Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		s, err = OpenSQLite(SQLiteConfig{Path: cfg.Path, Logger: cfg.Logger})
	case "json":
		s, err = OpenFile(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Metrics != nil {
		s = Instrument(s, cfg.Metrics)
	}
	return s, nil
}

// Progress summarises task completion for a project.
type Progress struct {
	Total      int     `json:"total"`
	Done       int     `json:"done"`
	InProgress int     `json:"in_progress"`
	Blocked    int     `json:"blocked"`
	Pending    int     `json:"pending"`
	Percent    float64 `json:"percent"`
}

// ComputeProgress counts tasks by status. Percent is the share of done tasks.
func ComputeProgress(tasks []plan.Task) Progress {
	p := Progress{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case plan.StatusDone:
			p.Done++
		case plan.StatusInProgress:
			p.InProgress++
		case plan.StatusBlocked:
			p.Blocked++
		default:
			p.Pending++
		}
	}
	if p.Total > 0 {
		p.Percent = float64(p.Done) / float64(p.Total) * 100
	}
	return p
}

func newSummary(id int64, status string, p *plan.Plan) ProjectSummary {
	return ProjectSummary{
		ID:        id,
		Goal:      p.Goal,
		Deadline:  p.Deadline,
		Source:    p.Source,
		Status:    status,
		CreatedAt: p.CreatedAt,
		Progress:  ComputeProgress(p.Tasks),
	}
}

// ProjectFilter narrows a project listing. Zero fields match everything.
type ProjectFilter struct {
	Search string // case-insensitive substring of the goal
	Status string
}

// FilterProjects keeps the summaries matching f, in order.
func FilterProjects(list []ProjectSummary, f ProjectFilter) []ProjectSummary {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]ProjectSummary, 0, len(list))
	for _, p := range list {
		if f.Status != "" && !strings.EqualFold(p.Status, f.Status) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Goal), search) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Stats summarises every stored project.
type Stats struct {
	Projects       int                   `json:"total_projects"`
	Active         int                   `json:"active_projects"`
	Completed      int                   `json:"completed_projects"`
	Tasks          int                   `json:"total_tasks"`
	Done           int                   `json:"completed_tasks"`
	CompletionRate float64               `json:"completion_rate"`
	ByStatus       map[plan.Status]int   `json:"status_distribution"`
	ByPriority     map[plan.Priority]int `json:"priority_distribution"`
}

// ComputeStats loads every project in s and tallies it.
func ComputeStats(ctx context.Context, s Store) (*Stats, error) {
	list, err := s.Projects(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		ByStatus:   make(map[plan.Status]int),
		ByPriority: make(map[plan.Priority]int),
	}
	for _, sum := range list {
		proj, err := s.Project(ctx, sum.ID)
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		st.Projects++
		if proj.Status == ProjectCompleted {
			st.Completed++
		} else {
			st.Active++
		}
		for _, t := range proj.Plan.Tasks {
			st.Tasks++
			st.ByStatus[t.Status]++
			st.ByPriority[t.Priority]++
			if t.Status == plan.StatusDone {
				st.Done++
			}
		}
	}
	if st.Tasks > 0 {
		st.CompletionRate = float64(st.Done) / float64(st.Tasks) * 100
	}
	return st, nil
}
