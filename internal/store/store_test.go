package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/joshharrison/goalplan/internal/metrics"
	"github.com/joshharrison/goalplan/internal/plan"
)

func samplePlan(goal string, created time.Time) *plan.Plan {
	return &plan.Plan{
		Goal:      goal,
		Context:   "solo developer",
		Deadline:  "2026-12-01",
		Source:    plan.SourceGenerated,
		CreatedAt: created,
		Tasks: []plan.Task{
			{ID: "a", Title: "Design", Priority: plan.PriorityHigh, Duration: 2, Category: "Planning"},
			{ID: "b", Title: "Build", Priority: plan.PriorityHigh, Duration: 5, Dependencies: []string{"a"}},
			{ID: "c", Title: "Ship", Priority: plan.PriorityMedium, Duration: 0.5, Dependencies: []string{"b", "a"}},
		},
	}
}

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends() []backend {
	return []backend{
		{"sqlite", func(t *testing.T) Store {
			s, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "goalplan.db")})
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{"json", func(t *testing.T) Store {
			s, err := OpenFile(filepath.Join(t.TempDir(), "projects.json"))
			require.NoError(t, err)
			return s
		}},
	}
}

func TestStore_CreateAndLoad(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			created := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)

			id, err := s.CreateProject(ctx, samplePlan("Launch site", created))
			require.NoError(t, err)
			assert.Positive(t, id)

			got, err := s.Project(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)
			assert.Equal(t, ProjectActive, got.Status)
			assert.Equal(t, "Launch site", got.Plan.Goal)
			assert.Equal(t, "solo developer", got.Plan.Context)
			assert.Equal(t, "2026-12-01", got.Plan.Deadline)
			assert.Equal(t, plan.SourceGenerated, got.Plan.Source)
			assert.True(t, created.Equal(got.Plan.CreatedAt), "created_at %v", got.Plan.CreatedAt)

			require.Len(t, got.Plan.Tasks, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{got.Plan.Tasks[0].ID, got.Plan.Tasks[1].ID, got.Plan.Tasks[2].ID})
			assert.Nil(t, got.Plan.Tasks[0].Dependencies)
			assert.Equal(t, []string{"b", "a"}, got.Plan.Tasks[2].Dependencies)
			assert.Equal(t, 0.5, got.Plan.Tasks[2].Duration)
			assert.Equal(t, "Planning", got.Plan.Tasks[0].Category)
			for _, task := range got.Plan.Tasks {
				assert.Equal(t, plan.StatusPending, task.Status)
			}
		})
	}
}

func TestStore_ProjectsNewestFirst(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

			older, err := s.CreateProject(ctx, samplePlan("older", base))
			require.NoError(t, err)
			newer, err := s.CreateProject(ctx, samplePlan("newer", base.Add(time.Hour)))
			require.NoError(t, err)
			empty, err := s.CreateProject(ctx, &plan.Plan{Goal: "empty", Source: plan.SourceManual, CreatedAt: base.Add(-time.Hour)})
			require.NoError(t, err)

			require.NoError(t, s.UpdateTaskStatus(ctx, newer, "a", plan.StatusDone))
			require.NoError(t, s.UpdateTaskStatus(ctx, newer, "b", plan.StatusInProgress))

			list, err := s.Projects(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []int64{newer, older, empty}, []int64{list[0].ID, list[1].ID, list[2].ID})

			top := list[0].Progress
			assert.InDelta(t, 100.0/3, top.Percent, 1e-9)
			top.Percent = 0
			assert.Equal(t, Progress{Total: 3, Done: 1, InProgress: 1, Pending: 1}, top)
			assert.Equal(t, 3, list[1].Progress.Pending)
			assert.Equal(t, Progress{}, list[2].Progress)
			assert.Equal(t, plan.SourceManual, list[2].Source)
		})
	}
}

func TestStore_UpdateTaskStatus(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			id, err := s.CreateProject(ctx, samplePlan("g", time.Now()))
			require.NoError(t, err)

			require.NoError(t, s.UpdateTaskStatus(ctx, id, "b", plan.StatusBlocked))
			got, err := s.Project(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, plan.StatusBlocked, got.Plan.Task("b").Status)
			assert.Equal(t, plan.StatusPending, got.Plan.Task("a").Status)

			err = s.UpdateTaskStatus(ctx, id, "missing", plan.StatusDone)
			assert.ErrorIs(t, err, ErrNotFound)
			err = s.UpdateTaskStatus(ctx, id+100, "a", plan.StatusDone)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ReplaceTasks(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			id, err := s.CreateProject(ctx, samplePlan("g", time.Now()))
			require.NoError(t, err)

			replacement := []plan.Task{
				{ID: "x", Title: "Only", Priority: plan.PriorityLow, Duration: 1, Status: plan.StatusDone},
				{ID: "y", Title: "Then", Priority: plan.PriorityLow, Duration: 1, Dependencies: []string{"x"}},
			}
			require.NoError(t, s.ReplaceTasks(ctx, id, replacement))

			got, err := s.Project(ctx, id)
			require.NoError(t, err)
			require.Len(t, got.Plan.Tasks, 2)
			assert.Equal(t, "x", got.Plan.Tasks[0].ID)
			assert.Equal(t, plan.StatusDone, got.Plan.Tasks[0].Status)
			assert.Equal(t, plan.StatusPending, got.Plan.Tasks[1].Status)
			assert.Equal(t, []string{"x"}, got.Plan.Tasks[1].Dependencies)

			assert.ErrorIs(t, s.ReplaceTasks(ctx, id+100, replacement), ErrNotFound)
		})
	}
}

func TestStore_ProjectStatusFollowsTasks(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			id, err := s.CreateProject(ctx, samplePlan("Launch site", time.Now()))
			require.NoError(t, err)

			for _, task := range []string{"a", "b", "c"} {
				require.NoError(t, s.UpdateTaskStatus(ctx, id, task, plan.StatusDone))
			}
			got, err := s.Project(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, ProjectCompleted, got.Status)

			require.NoError(t, s.UpdateTaskStatus(ctx, id, "c", plan.StatusInProgress))
			got, err = s.Project(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, ProjectActive, got.Status)

			done := []plan.Task{{ID: "x", Title: "Only", Priority: plan.PriorityLow, Duration: 1, Status: plan.StatusDone}}
			require.NoError(t, s.ReplaceTasks(ctx, id, done))
			list, err := s.Projects(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, ProjectCompleted, list[0].Status)
		})
	}
}

func TestStore_KeepsRisksAndRecommendations(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			p := samplePlan("Launch site", time.Now())
			p.Risks = []string{"Scope creep"}
			p.Recommendations = []string{"Ship a beta first", "Book a designer"}

			id, err := s.CreateProject(ctx, p)
			require.NoError(t, err)
			got, err := s.Project(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, p.Risks, got.Plan.Risks)
			assert.Equal(t, p.Recommendations, got.Plan.Recommendations)

			bare, err := s.CreateProject(ctx, samplePlan("No notes", time.Now()))
			require.NoError(t, err)
			got, err = s.Project(ctx, bare)
			require.NoError(t, err)
			assert.Nil(t, got.Plan.Risks)
			assert.Nil(t, got.Plan.Recommendations)
		})
	}
}

func TestStore_DeleteProject(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			keep, err := s.CreateProject(ctx, samplePlan("keep", time.Now()))
			require.NoError(t, err)
			drop, err := s.CreateProject(ctx, samplePlan("drop", time.Now()))
			require.NoError(t, err)

			require.NoError(t, s.DeleteProject(ctx, drop))

			_, err = s.Project(ctx, drop)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.DeleteProject(ctx, drop), ErrNotFound)

			got, err := s.Project(ctx, keep)
			require.NoError(t, err)
			assert.Len(t, got.Plan.Tasks, 3)

			list, err := s.Projects(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, keep, list[0].ID)
		})
	}
}

func TestStore_ReturnedPlanIsACopy(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()
			p := samplePlan("g", time.Now())
			id, err := s.CreateProject(ctx, p)
			require.NoError(t, err)
			p.Tasks[0].Title = "mutated"

			got, err := s.Project(ctx, id)
			require.NoError(t, err)
			got.Plan.Tasks[1].Dependencies[0] = "zzz"

			again, err := s.Project(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "Design", again.Plan.Tasks[0].Title)
			assert.Equal(t, []string{"a"}, again.Plan.Tasks[1].Dependencies)
		})
	}
}

func TestFileStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "projects.json")
	ctx := context.Background()

	s, err := OpenFile(path)
	require.NoError(t, err)
	first, err := s.CreateProject(ctx, samplePlan("one", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.DeleteProject(ctx, first))
	require.NoError(t, s.Close())

	s, err = OpenFile(path)
	require.NoError(t, err)
	second, err := s.CreateProject(ctx, samplePlan("two", time.Now()))
	require.NoError(t, err)
	assert.Greater(t, second, first, "ids are never reused")

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenFile(path)
	assert.ErrorContains(t, err, "parse store")
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goalplan.db")
	ctx := context.Background()

	s, err := OpenSQLite(SQLiteConfig{Path: path, PoolSize: 1})
	require.NoError(t, err)
	id, err := s.CreateProject(ctx, samplePlan("persisted", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Project(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Plan.Goal)
	assert.Len(t, got.Plan.Tasks, 3)
}

func TestSQLiteStore_AddsNoteColumnsToOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	conn, err := sqlite.OpenConn(path)
	require.NoError(t, err)
	require.NoError(t, sqlitex.ExecuteScript(conn, `
CREATE TABLE projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	goal TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	deadline TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL
);
INSERT INTO projects (goal, source, created_at) VALUES ('Old goal', 'manual', '2026-01-01T00:00:00Z');
`, nil))
	require.NoError(t, conn.Close())

	s, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	old, err := s.Project(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Old goal", old.Plan.Goal)
	assert.Nil(t, old.Plan.Risks)

	p := samplePlan("New goal", time.Now())
	p.Risks = []string{"Vendor delay"}
	id, err := s.CreateProject(ctx, p)
	require.NoError(t, err)
	got, err := s.Project(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Vendor delay"}, got.Plan.Risks)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(Config{Driver: "postgres", Path: filepath.Join(dir, "x")})
	assert.ErrorContains(t, err, "unknown store driver")

	s, err := Open(Config{Driver: "json", Path: filepath.Join(dir, "p.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(Config{Path: filepath.Join(dir, "p.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())
}

func TestOpen_Instrumented(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	s, err := Open(Config{Driver: "json", Path: filepath.Join(t.TempDir(), "p.json"), Metrics: m})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := s.CreateProject(ctx, samplePlan("g", time.Now()))
	require.NoError(t, err)
	_, err = s.Project(ctx, id+1)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations.WithLabelValues("create_project", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperations.WithLabelValues("project", "false")))
}

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		name   string
		status []plan.Status
		want   Progress
	}{
		{"empty", nil, Progress{}},
		{"all done", []plan.Status{plan.StatusDone, plan.StatusDone}, Progress{Total: 2, Done: 2, Percent: 100}},
		{"mixed", []plan.Status{plan.StatusDone, plan.StatusBlocked, plan.StatusInProgress, plan.StatusPending},
			Progress{Total: 4, Done: 1, Blocked: 1, InProgress: 1, Pending: 1, Percent: 25}},
		{"unset counts as pending", []plan.Status{""}, Progress{Total: 1, Pending: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := make([]plan.Task, len(tt.status))
			for i, s := range tt.status {
				tasks[i].Status = s
			}
			assert.Equal(t, tt.want, ComputeProgress(tasks))
		})
	}
}

func TestFilterProjects(t *testing.T) {
	list := []ProjectSummary{
		{ID: 3, Goal: "Launch the Website", Status: ProjectActive},
		{ID: 2, Goal: "Write a book", Status: ProjectCompleted},
		{ID: 1, Goal: "Redesign website footer", Status: ProjectCompleted},
	}
	ids := func(list []ProjectSummary) []int64 {
		out := []int64{}
		for _, p := range list {
			out = append(out, p.ID)
		}
		return out
	}

	tests := []struct {
		name   string
		filter ProjectFilter
		want   []int64
	}{
		{"no filter", ProjectFilter{}, []int64{3, 2, 1}},
		{"search ignores case", ProjectFilter{Search: "WEBSITE"}, []int64{3, 1}},
		{"status", ProjectFilter{Status: ProjectCompleted}, []int64{2, 1}},
		{"both", ProjectFilter{Search: "website", Status: "Completed"}, []int64{1}},
		{"no match", ProjectFilter{Search: "garden"}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(FilterProjects(list, tt.filter)))
		})
	}
}

func TestComputeStats(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			ctx := context.Background()

			empty, err := ComputeStats(ctx, s)
			require.NoError(t, err)
			assert.Zero(t, empty.Projects)
			assert.Zero(t, empty.CompletionRate)

			first, err := s.CreateProject(ctx, samplePlan("First", time.Now()))
			require.NoError(t, err)
			second, err := s.CreateProject(ctx, samplePlan("Second", time.Now()))
			require.NoError(t, err)
			for _, task := range []string{"a", "b", "c"} {
				require.NoError(t, s.UpdateTaskStatus(ctx, second, task, plan.StatusDone))
			}
			require.NoError(t, s.UpdateTaskStatus(ctx, first, "a", plan.StatusInProgress))

			st, err := ComputeStats(ctx, s)
			require.NoError(t, err)
			assert.Equal(t, 2, st.Projects)
			assert.Equal(t, 1, st.Active)
			assert.Equal(t, 1, st.Completed)
			assert.Equal(t, 6, st.Tasks)
			assert.Equal(t, 3, st.Done)
			assert.InDelta(t, 50.0, st.CompletionRate, 1e-9)
			assert.Equal(t, map[plan.Status]int{
				plan.StatusDone:       3,
				plan.StatusInProgress: 1,
				plan.StatusPending:    2,
			}, st.ByStatus)
			assert.Equal(t, map[plan.Priority]int{
				plan.PriorityHigh:   4,
				plan.PriorityMedium: 2,
			}, st.ByPriority)
		})
	}
}
