package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/joshharrison/goalplan/internal/claude"
	"github.com/joshharrison/goalplan/internal/config"
	"github.com/joshharrison/goalplan/internal/logging"
	"github.com/joshharrison/goalplan/internal/metrics"
	"github.com/joshharrison/goalplan/internal/plan"
	"github.com/joshharrison/goalplan/internal/planner"
	"github.com/joshharrison/goalplan/internal/reporter"
	"github.com/joshharrison/goalplan/internal/store"
	"github.com/joshharrison/goalplan/internal/ui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd()
	err := root.ExecuteContext(ctx)
	a.close()
	if err != nil {
		ui.Error(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// app holds what every command needs once the configuration is loaded.
type app struct {
	configFile string
	jsonOut    bool
	logLevel   string

	cfg      *config.Config
	logger   *slog.Logger
	logClose io.Closer
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    store.Store

	// newGenerator is replaced in tests.
	newGenerator func(config.GeneratorConfig, *slog.Logger) (planner.TextGenerator, error)
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{newGenerator: newClaudeGenerator}

	rootCmd := &cobra.Command{
		Use:   "goalplan",
		Short: "Turn goals into dependency-aware task plans",
		Long: `goalplan asks a language model to break a goal into tasks, validates the
answer into a dependency graph, and runs critical path analysis on it. When
generation fails a fixed three-phase plan is used instead. Plans can be saved
as projects and tracked task by task.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.setup() },
	}

	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Config file (default ./goalplan.yaml or "+config.ConfigFile()+")")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(a.planCmd())
	rootCmd.AddCommand(a.analyzeCmd())
	rootCmd.AddCommand(a.validateCmd())
	rootCmd.AddCommand(a.exportCmd())
	rootCmd.AddCommand(a.projectsCmd())
	rootCmd.AddCommand(a.statsCmd())
	rootCmd.AddCommand(a.showCmd())
	rootCmd.AddCommand(a.statusCmd())
	rootCmd.AddCommand(a.deleteCmd())
	rootCmd.AddCommand(a.vizCmd())
	rootCmd.AddCommand(a.serveCmd())

	return rootCmd, a
}

func (a *app) setup() error {
	v, err := config.New(a.configFile)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		v.Set("logging.level", a.logLevel)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	logger, closer, err := logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return err
	}
	a.logger, a.logClose = logger, closer
	a.registry, a.metrics = metrics.NewRegistry()

	logger.Debug("config loaded", "file", v.ConfigFileUsed(), "store", cfg.Store.Driver)
	return nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.logClose != nil {
		a.logClose.Close()
	}
}

// openStore opens the configured project store once per process.
func (a *app) openStore() (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.Open(store.Config{
		Driver:  a.cfg.Store.Driver,
		Path:    a.cfg.Store.Path,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = s
	return s, nil
}

func newClaudeGenerator(cfg config.GeneratorConfig, logger *slog.Logger) (planner.TextGenerator, error) {
	return claude.NewClient(claude.Config{
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		BackupModel: cfg.BackupModel,
		MaxRetries:  cfg.MaxRetries,
		Logger:      logger,
	})
}

// newPlanner builds a planner. Without a usable generator every request
// gets the fallback plan, which is still a valid plan.
func (a *app) newPlanner(offline bool, stderr io.Writer) *planner.Planner {
	var gen planner.TextGenerator
	if !offline {
		g, err := a.newGenerator(a.cfg.Generator, a.logger)
		if err != nil {
			fmt.Fprintf(stderr, "%s %v, using the fallback plan\n", ui.BoldYellow("⚠"), err)
			a.logger.Warn("text generator unavailable", "error", err)
		} else {
			gen = g
		}
	}
	return planner.New(gen, planner.Config{
		Timeout:            a.cfg.Generator.Timeout,
		MaxTokens:          a.cfg.Generator.MaxTokens,
		Temperature:        &a.cfg.Generator.Temperature,
		MaxRejectRatio:     a.cfg.Validation.MaxRejectRatio,
		FallbackTaskDays:   a.cfg.Fallback.TaskDays,
		PromptTemplatePath: a.cfg.Prompt.TemplatePath,
		Logger:             a.logger,
		Metrics:            a.metrics,
	})
}

// planSource is the shared --project/--file selector.
type planSource struct {
	projectID int64
	file      string
}

func (s *planSource) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&s.projectID, "project", 0, "Stored project id")
	cmd.Flags().StringVar(&s.file, "file", "", "Draft plan file (JSON or YAML, as written by export)")
	cmd.MarkFlagsMutuallyExclusive("project", "file")
	cmd.MarkFlagsOneRequired("project", "file")
}

// load returns the selected plan. Drafts read from a file are validated and
// anything discarded on the way is reported to stderr.
func (a *app) load(ctx context.Context, src planSource, stderr io.Writer) (*plan.Plan, error) {
	if src.file == "" {
		s, err := a.openStore()
		if err != nil {
			return nil, err
		}
		proj, err := s.Project(ctx, src.projectID)
		if err != nil {
			return nil, err
		}
		return &proj.Plan, nil
	}

	p, v, err := a.readDraft(src.file)
	if err != nil {
		return nil, err
	}
	reporter.PrintDiagnostics(stderr, planner.Diagnostics{Rejected: v.Rejected, Dropped: v.Dropped})
	return p, nil
}

func (a *app) readDraft(path string) (*plan.Plan, *planner.Validation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read draft: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = plan.DraftYAMLToJSON(data); err != nil {
			return nil, nil, err
		}
	}
	p, v, err := planner.ValidateAndResolve(data, planner.ValidateOptions{MaxRejectRatio: a.cfg.Validation.MaxRejectRatio})
	if err != nil {
		return nil, nil, err
	}
	a.metrics.RecordValidation(len(v.Rejected), len(v.Dropped))
	return p, v, nil
}

// --- Output helpers ---

func outputJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func parseProjectID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid project id %q", s)
	}
	return id, nil
}

// findTask resolves a task reference typed by a user: a full id, a 1-based
// position, a unique id prefix, or a case-insensitive title.
func findTask(p *plan.Plan, ref string) (*plan.Task, error) {
	if t := p.Task(ref); t != nil {
		return t, nil
	}
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(p.Tasks) {
		return &p.Tasks[n-1], nil
	}

	var matches []*plan.Task
	for i := range p.Tasks {
		if strings.HasPrefix(p.Tasks[i].ID, ref) || strings.EqualFold(p.Tasks[i].Title, ref) {
			matches = append(matches, &p.Tasks[i])
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("task %q: %w", ref, store.ErrNotFound)
	case 1:
		return matches[0], nil
	}
	return nil, errors.New("task reference " + strconv.Quote(ref) + " is ambiguous")
}
