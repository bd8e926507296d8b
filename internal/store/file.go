package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/joshharrison/goalplan/internal/plan"
)

// fileState is the on-disk document of a FileStore.
type fileState struct {
	NextID   int64      `json:"next_id"`
	Projects []*Project `json:"projects"`
}

// FileStore keeps every project in one JSON document. Each mutation rewrites
// the file.
type FileStore struct {
	mu    sync.Mutex
	path  string
	state fileState
}

// OpenFile loads the document at path, or starts an empty one if the file
// does not exist yet.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store: path is required")
	}
	s := &FileStore{path: path, state: fileState{NextID: 1}}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read store: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse store: %w", err)
	}
	if s.state.NextID < 1 {
		s.state.NextID = 1
	}
	return s, nil
}

// save persists the current state to disk. Callers hold mu.
func (s *FileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) find(id int64) (int, *Project) {
	for i, p := range s.state.Projects {
		if p.ID == id {
			return i, p
		}
	}
	return -1, nil
}

// CreateProject saves a copy of p.
func (s *FileStore) CreateProject(_ context.Context, p *plan.Plan) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proj := &Project{ID: s.state.NextID, Status: ProjectActive, Plan: clonePlan(p)}
	if proj.Plan.CreatedAt.IsZero() {
		proj.Plan.CreatedAt = time.Now().UTC()
	}
	defaultPending(proj.Plan.Tasks)
	proj.Status = StatusFor(proj.Plan.Tasks)

	s.state.Projects = append(s.state.Projects, proj)
	s.state.NextID++
	if err := s.save(); err != nil {
		s.state.Projects = s.state.Projects[:len(s.state.Projects)-1]
		s.state.NextID--
		return 0, err
	}
	return proj.ID, nil
}

// Project returns a copy of the stored project.
func (s *FileStore) Project(_ context.Context, id int64) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, p := s.find(id)
	if p == nil {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	out := *p
	out.Plan = clonePlan(&p.Plan)
	return &out, nil
}

// Projects lists every project, newest first.
func (s *FileStore) Projects(_ context.Context) ([]ProjectSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProjectSummary, 0, len(s.state.Projects))
	for _, p := range s.state.Projects {
		out = append(out, newSummary(p.ID, p.Status, &p.Plan))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// UpdateTaskStatus sets one task's status and saves.
func (s *FileStore) UpdateTaskStatus(_ context.Context, projectID int64, taskID string, status plan.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, p := s.find(projectID)
	if p == nil {
		return fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	t := p.Plan.Task(taskID)
	if t == nil {
		return fmt.Errorf("task %s in project %d: %w", taskID, projectID, ErrNotFound)
	}
	prev, prevProject := t.Status, p.Status
	t.Status = status
	p.Status = StatusFor(p.Plan.Tasks)
	if err := s.save(); err != nil {
		t.Status = prev
		p.Status = prevProject
		return err
	}
	return nil
}

// ReplaceTasks swaps the project's task list and saves.
func (s *FileStore) ReplaceTasks(_ context.Context, projectID int64, tasks []plan.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, p := s.find(projectID)
	if p == nil {
		return fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	prev, prevProject := p.Plan.Tasks, p.Status
	p.Plan.Tasks = clonePlan(&plan.Plan{Tasks: tasks}).Tasks
	defaultPending(p.Plan.Tasks)
	p.Status = StatusFor(p.Plan.Tasks)
	if err := s.save(); err != nil {
		p.Plan.Tasks = prev
		p.Status = prevProject
		return err
	}
	return nil
}

// DeleteProject removes a project and saves.
func (s *FileStore) DeleteProject(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, p := s.find(id)
	if p == nil {
		return fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	prev := s.state.Projects
	s.state.Projects = append(append([]*Project{}, prev[:i]...), prev[i+1:]...)
	if err := s.save(); err != nil {
		s.state.Projects = prev
		return err
	}
	return nil
}

// Close is a no-op; every mutation is already on disk.
func (s *FileStore) Close() error {
	return nil
}

func defaultPending(tasks []plan.Task) {
	for i := range tasks {
		if tasks[i].Status == "" {
			tasks[i].Status = plan.StatusPending
		}
	}
}

func clonePlan(p *plan.Plan) plan.Plan {
	out := *p
	out.Tasks = make([]plan.Task, len(p.Tasks))
	for i, t := range p.Tasks {
		t.Dependencies = append([]string(nil), t.Dependencies...)
		out.Tasks[i] = t
	}
	out.Risks = append([]string(nil), p.Risks...)
	out.Recommendations = append([]string(nil), p.Recommendations...)
	return out
}
