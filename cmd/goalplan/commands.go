package main

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshharrison/goalplan/internal/cpm"
	"github.com/joshharrison/goalplan/internal/plan"
	"github.com/joshharrison/goalplan/internal/planner"
	"github.com/joshharrison/goalplan/internal/reporter"
	"github.com/joshharrison/goalplan/internal/store"
	"github.com/joshharrison/goalplan/internal/ui"
	"github.com/joshharrison/goalplan/internal/viewer"
)

type planOutput struct {
	ProjectID   int64                `json:"project_id,omitempty"`
	Plan        *plan.Plan           `json:"plan"`
	Analysis    *cpm.Result          `json:"analysis"`
	Diagnostics *planner.Diagnostics `json:"diagnostics,omitempty"`
	Validation  *planner.Validation  `json:"validation,omitempty"`
	Schedule    *cpm.Schedule        `json:"schedule,omitempty"`
}

func (a *app) planCmd() *cobra.Command {
	var (
		flagContext  string
		flagDeadline string
		flagSave     bool
		flagOffline  bool
	)

	cmd := &cobra.Command{
		Use:   "plan <goal>",
		Short: "Generate a task plan for a goal and analyse its critical path",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
			if flagDeadline != "" {
				if _, err := time.Parse(time.DateOnly, flagDeadline); err != nil {
					return fmt.Errorf("deadline must be YYYY-MM-DD: %q", flagDeadline)
				}
			}
			if !a.jsonOut {
				ui.PrintBanner(stderr)
			}

			p := a.newPlanner(flagOffline, stderr)
			result, err := p.Generate(cmd.Context(), planner.Request{
				Goal:     strings.Join(args, " "),
				Context:  flagContext,
				Deadline: flagDeadline,
			})
			if err != nil {
				return err
			}

			analysis, err := cpm.AnalyzeObserved(result.Plan, a.metrics)
			if err != nil {
				return fmt.Errorf("critical path analysis: %w", err)
			}

			var projectID int64
			if flagSave {
				s, err := a.openStore()
				if err != nil {
					return err
				}
				if projectID, err = s.CreateProject(cmd.Context(), result.Plan); err != nil {
					return fmt.Errorf("save project: %w", err)
				}
			}

			if a.jsonOut {
				return outputJSON(out, planOutput{
					ProjectID:   projectID,
					Plan:        result.Plan,
					Analysis:    analysis,
					Diagnostics: &result.Diagnostics,
					Schedule:    cpm.ScheduleFor(result.Plan.CreatedAt, result.Plan.Deadline, analysis),
				})
			}

			reporter.PrintDiagnostics(stderr, result.Diagnostics)
			reporter.New(result.Plan, analysis).PrintPlan(out)
			if projectID != 0 {
				fmt.Fprintf(out, "💾 Saved as project %s\n", ui.BoldMagenta(fmt.Sprintf("#%d", projectID)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagContext, "context", "", "Background the planner should take into account")
	cmd.Flags().StringVar(&flagDeadline, "deadline", "", "Target date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&flagSave, "save", false, "Save the plan as a new project")
	cmd.Flags().BoolVar(&flagOffline, "offline", false, "Skip the language model and use the fallback plan")

	return cmd
}

func (a *app) analyzeCmd() *cobra.Command {
	var (
		src        planSource
		flagFilter string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run critical path analysis on a stored project or a draft file",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.load(cmd.Context(), src, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if flagFilter != "" {
				if p, err = applyFilter(p, flagFilter); err != nil {
					return fmt.Errorf("apply filter: %w", err)
				}
			}

			analysis, err := cpm.AnalyzeObserved(p, a.metrics)
			if err != nil {
				return fmt.Errorf("critical path analysis: %w", err)
			}
			rpt := reporter.New(p, analysis)
			if a.jsonOut {
				data, err := rpt.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			rpt.PrintPlan(cmd.OutOrStdout())
			return nil
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&flagFilter, "filter", "", "Filter tasks (priority>=P, category=X, status=S)")

	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	var (
		flagFile   string
		flagSaveTo int64
		flagSave   bool
		flagGoal   string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a hand-edited draft and optionally store it",
		Long: `Reads a draft in the generator's JSON shape (or the YAML export), validates
it and resolves dependencies. Unlike plan, problems are reported as errors
instead of falling back. With --save-to the tasks of an existing project are
replaced; with --save a new project is created.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			p, v, err := a.readDraft(flagFile)
			if err != nil {
				return err
			}
			p.Goal = flagGoal
			p.CreatedAt = time.Now().UTC()

			analysis, err := cpm.AnalyzeObserved(p, a.metrics)
			if err != nil {
				return fmt.Errorf("critical path analysis: %w", err)
			}

			var projectID int64
			switch {
			case flagSaveTo != 0:
				s, err := a.openStore()
				if err != nil {
					return err
				}
				if err := s.ReplaceTasks(cmd.Context(), flagSaveTo, p.Tasks); err != nil {
					return fmt.Errorf("replace tasks: %w", err)
				}
				projectID = flagSaveTo
			case flagSave:
				if strings.TrimSpace(flagGoal) == "" {
					return fmt.Errorf("--goal is required with --save")
				}
				s, err := a.openStore()
				if err != nil {
					return err
				}
				if projectID, err = s.CreateProject(cmd.Context(), p); err != nil {
					return fmt.Errorf("save project: %w", err)
				}
			}

			if a.jsonOut {
				return outputJSON(out, planOutput{
					ProjectID:  projectID,
					Plan:       p,
					Analysis:   analysis,
					Validation: v,
					Schedule:   cpm.ScheduleFor(p.CreatedAt, p.Deadline, analysis),
				})
			}
			reporter.PrintDiagnostics(cmd.ErrOrStderr(), planner.Diagnostics{Rejected: v.Rejected, Dropped: v.Dropped})
			fmt.Fprintf(out, "%s %d tasks, %s\n\n", ui.BoldGreen("✓ valid:"), len(p.Tasks), reporter.Days(analysis.TotalDuration))
			reporter.New(p, analysis).PrintPlan(out)
			if projectID != 0 {
				fmt.Fprintf(out, "💾 Saved to project %s\n", ui.BoldMagenta(fmt.Sprintf("#%d", projectID)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagFile, "file", "", "Draft file (JSON or YAML)")
	cmd.Flags().Int64Var(&flagSaveTo, "save-to", 0, "Replace the tasks of this project")
	cmd.Flags().BoolVar(&flagSave, "save", false, "Save as a new project")
	cmd.Flags().StringVar(&flagGoal, "goal", "", "Goal for a new project")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagsMutuallyExclusive("save-to", "save")

	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var (
		flagProject int64
		flagFormat  string
		flagOutput  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a project as an editable draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			proj, err := s.Project(cmd.Context(), flagProject)
			if err != nil {
				return err
			}

			var data []byte
			switch flagFormat {
			case "json":
				data, err = plan.MarshalDraft(&proj.Plan)
				data = append(data, '\n')
			case "yaml", "yml":
				data, err = plan.MarshalDraftYAML(&proj.Plan)
			default:
				return fmt.Errorf("unsupported format %q (use json or yaml)", flagFormat)
			}
			if err != nil {
				return fmt.Errorf("encode draft: %w", err)
			}

			if flagOutput == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(flagOutput, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", flagOutput, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "📄 Wrote %s\n", flagOutput)
			return nil
		},
	}

	cmd.Flags().Int64Var(&flagProject, "project", 0, "Project id")
	cmd.Flags().StringVar(&flagFormat, "format", "json", "Output format (json, yaml)")
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Write to file instead of stdout")
	cmd.MarkFlagRequired("project")

	return cmd
}

func (a *app) projectsCmd() *cobra.Command {
	var filter store.ProjectFilter

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List stored projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			list, err := s.Projects(cmd.Context())
			if err != nil {
				return err
			}
			list = store.FilterProjects(list, filter)
			if a.jsonOut {
				return outputJSON(cmd.OutOrStdout(), list)
			}
			reporter.PrintProjects(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Search, "search", "", "Only projects whose goal contains this text")
	cmd.Flags().StringVar(&filter.Status, "status", "", "Only projects with this status (active, completed)")

	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise all stored projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			st, err := store.ComputeStats(cmd.Context(), s)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return outputJSON(cmd.OutOrStdout(), st)
			}
			reporter.PrintStats(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its schedule and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			proj, err := s.Project(cmd.Context(), id)
			if err != nil {
				return err
			}
			analysis, err := cpm.AnalyzeObserved(&proj.Plan, a.metrics)
			if err != nil {
				return fmt.Errorf("critical path analysis: %w", err)
			}

			rpt := reporter.New(&proj.Plan, analysis)
			if a.jsonOut {
				data, err := rpt.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s ", ui.BoldMagenta(fmt.Sprintf("#%d", proj.ID)))
			rpt.PrintPlan(out)
			reporter.PrintProgress(out, store.ComputeProgress(proj.Plan.Tasks))
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id> <task> <status>",
		Short: "Set a task's status (pending, in_progress, done, blocked)",
		Long: `Sets the status of one task. The task can be given as its id, a unique id
prefix, its 1-based position, or its title. "completed" is accepted for done.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			status, ok := plan.ParseStatus(args[2])
			if !ok {
				return fmt.Errorf("invalid status %q (use pending, in_progress, done, or blocked)", args[2])
			}

			s, err := a.openStore()
			if err != nil {
				return err
			}
			proj, err := s.Project(cmd.Context(), id)
			if err != nil {
				return err
			}
			task, err := findTask(&proj.Plan, args[1])
			if err != nil {
				return err
			}
			if err := s.UpdateTaskStatus(cmd.Context(), id, task.ID, status); err != nil {
				return err
			}
			task.Status = status

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return outputJSON(out, map[string]any{
					"project_id": id,
					"task_id":    task.ID,
					"status":     status,
					"progress":   store.ComputeProgress(proj.Plan.Tasks),
				})
			}
			fmt.Fprintf(out, "%s %s %s → %s\n", ui.StatusIcon(status), ui.TaskPrefix(task.ID), task.Title, ui.Bold(string(status)))
			reporter.PrintProgress(out, store.ComputeProgress(proj.Plan.Tasks))
			return nil
		},
	}
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProjectID(args[0])
			if err != nil {
				return err
			}
			s, err := a.openStore()
			if err != nil {
				return err
			}
			if err := s.DeleteProject(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🗑  Deleted project %s\n", ui.BoldMagenta(fmt.Sprintf("#%d", id)))
			return nil
		},
	}
}

func (a *app) vizCmd() *cobra.Command {
	var (
		src        planSource
		flagFormat string
		flagFilter string
	)

	cmd := &cobra.Command{
		Use:   "viz",
		Short: "Print the dependency graph as ASCII or Graphviz DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.load(cmd.Context(), src, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if flagFilter != "" {
				if p, err = applyFilter(p, flagFilter); err != nil {
					return fmt.Errorf("apply filter: %w", err)
				}
			}
			analysis, err := cpm.AnalyzeObserved(p, a.metrics)
			if err != nil {
				return fmt.Errorf("critical path analysis: %w", err)
			}

			rpt := reporter.New(p, analysis)
			switch flagFormat {
			case "dot":
				return rpt.WriteDOT(cmd.OutOrStdout())
			case "ascii":
				rpt.PrintASCIIDAG(cmd.OutOrStdout())
				return nil
			}
			return fmt.Errorf("unsupported format %q (use ascii or dot)", flagFormat)
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&flagFormat, "format", "ascii", "Output format (ascii, dot)")
	cmd.Flags().StringVar(&flagFilter, "filter", "", "Filter tasks before drawing")

	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var flagAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the project graph API and Prometheus metrics over HTTP",
		Long: `Serves, until interrupted:
  GET  /projects             project listing
  GET  /projects/{id}/graph  analysed dependency graph
  POST /graph                validate and analyse a draft
  GET  /metrics              Prometheus metrics
  GET  /healthz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore()
			if err != nil {
				return err
			}
			handler := viewer.NewHandler(viewer.Config{
				Store:          s,
				Gatherer:       a.registry,
				Metrics:        a.metrics,
				Logger:         a.logger,
				MaxRejectRatio: a.cfg.Validation.MaxRejectRatio,
			})
			return viewer.Serve(cmd.Context(), flagAddr, handler, func(addr net.Addr) {
				a.logger.Info("serving", "addr", addr.String())
				fmt.Fprintf(cmd.ErrOrStderr(), "🌐 Listening on http://%s\n", addr)
			})
		},
	}

	cmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:7171", "Listen address")

	return cmd
}
