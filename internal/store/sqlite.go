package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/joshharrison/goalplan/internal/logging"
	"github.com/joshharrison/goalplan/internal/plan"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	goal TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	deadline TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TEXT NOT NULL,
	risk_factors TEXT NOT NULL DEFAULT '[]',
	recommendations TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS tasks (
	project_id INTEGER NOT NULL,
	task_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL,
	duration REAL NOT NULL,
	dependencies TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'pending',
	PRIMARY KEY (project_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_project_position ON tasks (project_id, position);
`

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	Path     string
	PoolSize int // default 4
	Logger   *slog.Logger
}

// SQLiteStore keeps projects in a SQLite database in WAL mode.
type SQLiteStore struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenSQLite opens (creating if needed) the database at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite store: create directory: %w", err)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", cfg.Path, err)
	}

	s := &SQLiteStore{pool: pool, logger: logger, path: cfg.Path}
	if err := s.migrate(); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("sqlite store opened", "path", cfg.Path, "pool_size", poolSize)
	return s, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	conn, err := s.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("sqlite store: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite store: create schema: %w", err)
	}
	return addMissingColumns(conn, "projects", map[string]string{
		"risk_factors":    "TEXT NOT NULL DEFAULT '[]'",
		"recommendations": "TEXT NOT NULL DEFAULT '[]'",
	})
}

// addMissingColumns upgrades tables created before a column existed.
func addMissingColumns(conn *sqlite.Conn, table string, columns map[string]string) error {
	have := make(map[string]bool)
	err := sqlitex.Execute(conn, "PRAGMA table_info("+table+")", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			have[stmt.GetText("name")] = true
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("sqlite store: inspect %s: %w", table, err)
	}
	for name, def := range columns {
		if have[name] {
			continue
		}
		if err := sqlitex.ExecuteTransient(conn, "ALTER TABLE "+table+" ADD COLUMN "+name+" "+def, nil); err != nil {
			return fmt.Errorf("sqlite store: add column %s.%s: %w", table, name, err)
		}
	}
	return nil
}

// Close closes the connection pool. Blocks until all borrowed connections
// are returned.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite store close error", "path", s.path, "error", err)
		return fmt.Errorf("sqlite store: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite store closed", "path", s.path)
	return nil
}

func (s *SQLiteStore) take(ctx context.Context) (*sqlite.Conn, func(), error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite store: take: %w", err)
	}
	return conn, func() { s.pool.Put(conn) }, nil
}

// CreateProject inserts the project row and its tasks in one transaction.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *plan.Plan) (id int64, err error) {
	conn, put, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer put()

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	risks, err := json.Marshal(nonNil(p.Risks))
	if err != nil {
		return 0, fmt.Errorf("sqlite store: encode risk factors: %w", err)
	}
	recs, err := json.Marshal(nonNil(p.Recommendations))
	if err != nil {
		return 0, fmt.Errorf("sqlite store: encode recommendations: %w", err)
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO projects (goal, context, deadline, source, status, created_at, risk_factors, recommendations)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		&sqlitex.ExecOptions{
			Args: []any{p.Goal, p.Context, p.Deadline, string(p.Source), ProjectActive, createdAt.UTC().Format(timeFormat), string(risks), string(recs)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert project: %w", err)
	}

	if err = insertTasks(conn, id, p.Tasks); err != nil {
		return 0, err
	}
	if err = syncProjectStatus(conn, id); err != nil {
		return 0, err
	}
	return id, nil
}

// syncProjectStatus marks a project completed once all of its tasks are done
// and active otherwise.
func syncProjectStatus(conn *sqlite.Conn, projectID int64) error {
	err := sqlitex.Execute(conn,
		`UPDATE projects SET status = CASE
			WHEN EXISTS (SELECT 1 FROM tasks WHERE project_id = ?1)
			 AND NOT EXISTS (SELECT 1 FROM tasks WHERE project_id = ?1 AND status != 'done')
			THEN 'completed' ELSE 'active' END
		 WHERE id = ?1`,
		&sqlitex.ExecOptions{Args: []any{projectID}})
	if err != nil {
		return fmt.Errorf("sqlite store: update status of project %d: %w", projectID, err)
	}
	return nil
}

func insertTasks(conn *sqlite.Conn, projectID int64, tasks []plan.Task) error {
	for i, t := range tasks {
		deps, err := json.Marshal(nonNil(t.Dependencies))
		if err != nil {
			return fmt.Errorf("sqlite store: encode dependencies: %w", err)
		}
		status := t.Status
		if status == "" {
			status = plan.StatusPending
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO tasks (project_id, task_id, position, title, description, category, priority, duration, dependencies, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{projectID, t.ID, i, t.Title, t.Description, t.Category, string(t.Priority), t.Duration, string(deps), string(status)},
			})
		if err != nil {
			return fmt.Errorf("sqlite store: insert task %s: %w", t.ID, err)
		}
	}
	return nil
}

// Project loads a project and its tasks in declaration order.
func (s *SQLiteStore) Project(ctx context.Context, id int64) (*Project, error) {
	conn, put, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer put()

	var proj *Project
	err = sqlitex.Execute(conn,
		`SELECT id, goal, context, deadline, source, status, created_at, risk_factors, recommendations
		 FROM projects WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				proj = &Project{
					ID:     stmt.ColumnInt64(0),
					Status: stmt.ColumnText(5),
					Plan: plan.Plan{
						Goal:      stmt.ColumnText(1),
						Context:   stmt.ColumnText(2),
						Deadline:  stmt.ColumnText(3),
						Source:    plan.Source(stmt.ColumnText(4)),
						CreatedAt: parseTime(stmt.ColumnText(6)),
					},
				}
				if err := json.Unmarshal([]byte(stmt.ColumnText(7)), &proj.Plan.Risks); err != nil {
					return fmt.Errorf("decode risk factors: %w", err)
				}
				if err := json.Unmarshal([]byte(stmt.ColumnText(8)), &proj.Plan.Recommendations); err != nil {
					return fmt.Errorf("decode recommendations: %w", err)
				}
				if len(proj.Plan.Risks) == 0 {
					proj.Plan.Risks = nil
				}
				if len(proj.Plan.Recommendations) == 0 {
					proj.Plan.Recommendations = nil
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query project %d: %w", id, err)
	}
	if proj == nil {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}

	proj.Plan.Tasks, err = queryTasks(conn, id)
	if err != nil {
		return nil, err
	}
	return proj, nil
}

func queryTasks(conn *sqlite.Conn, projectID int64) ([]plan.Task, error) {
	tasks := []plan.Task{}
	err := sqlitex.Execute(conn,
		`SELECT task_id, title, description, category, priority, duration, dependencies, status
		 FROM tasks WHERE project_id = ? ORDER BY position`,
		&sqlitex.ExecOptions{
			Args: []any{projectID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				t := plan.Task{
					ID:          stmt.ColumnText(0),
					Title:       stmt.ColumnText(1),
					Description: stmt.ColumnText(2),
					Category:    stmt.ColumnText(3),
					Priority:    plan.Priority(stmt.ColumnText(4)),
					Duration:    stmt.ColumnFloat(5),
					Status:      plan.Status(stmt.ColumnText(7)),
				}
				if err := json.Unmarshal([]byte(stmt.ColumnText(6)), &t.Dependencies); err != nil {
					return fmt.Errorf("decode dependencies of task %s: %w", t.ID, err)
				}
				if len(t.Dependencies) == 0 {
					t.Dependencies = nil
				}
				tasks = append(tasks, t)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query tasks of project %d: %w", projectID, err)
	}
	return tasks, nil
}

// Projects lists every project, newest first, with task progress.
func (s *SQLiteStore) Projects(ctx context.Context) ([]ProjectSummary, error) {
	conn, put, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer put()

	var summaries []ProjectSummary
	err = sqlitex.Execute(conn,
		`SELECT p.id, p.goal, p.deadline, p.source, p.status, p.created_at,
		        COUNT(t.task_id),
		        COALESCE(SUM(t.status = 'done'), 0),
		        COALESCE(SUM(t.status = 'in_progress'), 0),
		        COALESCE(SUM(t.status = 'blocked'), 0)
		 FROM projects p LEFT JOIN tasks t ON t.project_id = p.id
		 GROUP BY p.id
		 ORDER BY p.created_at DESC, p.id DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				prog := Progress{
					Total:      stmt.ColumnInt(6),
					Done:       stmt.ColumnInt(7),
					InProgress: stmt.ColumnInt(8),
					Blocked:    stmt.ColumnInt(9),
				}
				prog.Pending = prog.Total - prog.Done - prog.InProgress - prog.Blocked
				if prog.Total > 0 {
					prog.Percent = float64(prog.Done) / float64(prog.Total) * 100
				}
				summaries = append(summaries, ProjectSummary{
					ID:        stmt.ColumnInt64(0),
					Goal:      stmt.ColumnText(1),
					Deadline:  stmt.ColumnText(2),
					Source:    plan.Source(stmt.ColumnText(3)),
					Status:    stmt.ColumnText(4),
					CreatedAt: parseTime(stmt.ColumnText(5)),
					Progress:  prog,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list projects: %w", err)
	}
	return summaries, nil
}

// UpdateTaskStatus sets one task's status and refreshes the project status.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, projectID int64, taskID string, status plan.Status) (err error) {
	conn, put, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer put()

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	updated := false
	err = sqlitex.Execute(conn,
		`UPDATE tasks SET status = ? WHERE project_id = ? AND task_id = ? RETURNING task_id`,
		&sqlitex.ExecOptions{
			Args: []any{string(status), projectID, taskID},
			ResultFunc: func(*sqlite.Stmt) error {
				updated = true
				return nil
			},
		})
	if err != nil {
		return fmt.Errorf("sqlite store: update task %s: %w", taskID, err)
	}
	if !updated {
		return fmt.Errorf("task %s in project %d: %w", taskID, projectID, ErrNotFound)
	}
	return syncProjectStatus(conn, projectID)
}

// ReplaceTasks deletes and re-inserts the project's tasks in one transaction.
func (s *SQLiteStore) ReplaceTasks(ctx context.Context, projectID int64, tasks []plan.Task) (err error) {
	conn, put, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer put()

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = requireProject(conn, projectID); err != nil {
		return err
	}
	if err = sqlitex.Execute(conn, `DELETE FROM tasks WHERE project_id = ?`, &sqlitex.ExecOptions{Args: []any{projectID}}); err != nil {
		return fmt.Errorf("sqlite store: delete tasks: %w", err)
	}
	if err = insertTasks(conn, projectID, tasks); err != nil {
		return err
	}
	return syncProjectStatus(conn, projectID)
}

// DeleteProject removes a project and all of its tasks.
func (s *SQLiteStore) DeleteProject(ctx context.Context, id int64) (err error) {
	conn, put, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer put()

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = requireProject(conn, id); err != nil {
		return err
	}
	if err = sqlitex.Execute(conn, `DELETE FROM tasks WHERE project_id = ?`, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("sqlite store: delete tasks: %w", err)
	}
	if err = sqlitex.Execute(conn, `DELETE FROM projects WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("sqlite store: delete project: %w", err)
	}
	return nil
}

func requireProject(conn *sqlite.Conn, id int64) error {
	found := false
	err := sqlitex.Execute(conn, `SELECT 1 FROM projects WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("sqlite store: query project %d: %w", id, err)
	}
	if !found {
		return fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return nil
}

// timeFormat has fixed-width fractional seconds so text order is time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
