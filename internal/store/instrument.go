package store

import (
	"context"

	"github.com/joshharrison/goalplan/internal/metrics"
	"github.com/joshharrison/goalplan/internal/plan"
)

type instrumented struct {
	inner Store
	m     *metrics.Metrics
}

// Instrument counts every operation on s by name and outcome.
func Instrument(s Store, m *metrics.Metrics) Store {
	return &instrumented{inner: s, m: m}
}

func (s *instrumented) CreateProject(ctx context.Context, p *plan.Plan) (int64, error) {
	id, err := s.inner.CreateProject(ctx, p)
	s.m.RecordStoreOp("create_project", err)
	return id, err
}

func (s *instrumented) Project(ctx context.Context, id int64) (*Project, error) {
	p, err := s.inner.Project(ctx, id)
	s.m.RecordStoreOp("project", err)
	return p, err
}

func (s *instrumented) Projects(ctx context.Context) ([]ProjectSummary, error) {
	ps, err := s.inner.Projects(ctx)
	s.m.RecordStoreOp("projects", err)
	return ps, err
}

func (s *instrumented) UpdateTaskStatus(ctx context.Context, projectID int64, taskID string, status plan.Status) error {
	err := s.inner.UpdateTaskStatus(ctx, projectID, taskID, status)
	s.m.RecordStoreOp("update_task_status", err)
	return err
}

func (s *instrumented) ReplaceTasks(ctx context.Context, projectID int64, tasks []plan.Task) error {
	err := s.inner.ReplaceTasks(ctx, projectID, tasks)
	s.m.RecordStoreOp("replace_tasks", err)
	return err
}

func (s *instrumented) DeleteProject(ctx context.Context, id int64) error {
	err := s.inner.DeleteProject(ctx, id)
	s.m.RecordStoreOp("delete_project", err)
	return err
}

func (s *instrumented) Close() error {
	return s.inner.Close()
}
