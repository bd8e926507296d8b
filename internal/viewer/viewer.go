package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshharrison/goalplan/internal/cpm"
	"github.com/joshharrison/goalplan/internal/logging"
	"github.com/joshharrison/goalplan/internal/metrics"
	"github.com/joshharrison/goalplan/internal/plan"
	"github.com/joshharrison/goalplan/internal/planner"
	"github.com/joshharrison/goalplan/internal/store"
)

// maxBody caps POST /graph request bodies.
const maxBody = 1 << 20

// --- Graph types ---

type GraphNode struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Status     plan.Status   `json:"status"`
	Priority   plan.Priority `json:"priority"`
	Category   string        `json:"category,omitempty"`
	Duration   float64       `json:"duration"`
	IsCritical bool          `json:"is_critical"`
	WaveIndex  int           `json:"wave_index"`
	ES         float64       `json:"earliest_start"`
	EF         float64       `json:"earliest_finish"`
	Slack      float64       `json:"slack"`
	StartDate  string        `json:"start_date,omitempty"`
	EndDate    string        `json:"end_date,omitempty"`
}

type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type GraphMetadata struct {
	ProjectID     int64          `json:"project_id,omitempty"`
	Goal          string         `json:"goal"`
	Source        plan.Source    `json:"source"`
	CreatedAt     string         `json:"created_at,omitempty"`
	TotalTasks    int            `json:"total_tasks"`
	TotalWaves    int            `json:"total_waves"`
	TotalDuration float64        `json:"total_duration"`
	Progress      store.Progress `json:"progress"`

	StartDate       string             `json:"start_date"`
	ProjectedFinish string             `json:"projected_finish"`
	Deadline        *cpm.DeadlineCheck `json:"deadline,omitempty"`
	Risks           []string           `json:"risk_factors,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

type Graph struct {
	Nodes        []GraphNode   `json:"nodes"`
	Edges        []GraphEdge   `json:"edges"`
	CriticalPath []string      `json:"critical_path"`
	Metadata     GraphMetadata `json:"metadata"`
}

// ToGraph converts an analysed plan into the normalised Graph clients render.
// Nodes and edges follow declaration order. Dates count from p.CreatedAt, or
// today for an unsaved plan.
func ToGraph(projectID int64, p *plan.Plan, res *cpm.Result) *Graph {
	sched := cpm.ScheduleFor(p.CreatedAt, p.Deadline, res)
	nodes := make([]GraphNode, 0, len(p.Tasks))
	edges := []GraphEdge{}
	for _, t := range p.Tasks {
		n := GraphNode{
			ID:       t.ID,
			Title:    t.Title,
			Status:   t.Status,
			Priority: t.Priority,
			Category: t.Category,
			Duration: t.Duration,
		}
		if ts := res.Tasks[t.ID]; ts != nil {
			n.IsCritical = ts.IsCritical
			n.WaveIndex = ts.Wave
			n.ES, n.EF, n.Slack = ts.ES, ts.EF, ts.Slack
			d := sched.Tasks[t.ID]
			n.StartDate, n.EndDate = d.Start, d.End
		}
		nodes = append(nodes, n)
		for _, d := range t.Dependencies {
			edges = append(edges, GraphEdge{From: d, To: t.ID})
		}
	}

	meta := GraphMetadata{
		ProjectID:     projectID,
		Goal:          p.Goal,
		Source:        p.Source,
		TotalTasks:    len(p.Tasks),
		TotalWaves:    len(res.Waves),
		TotalDuration: res.TotalDuration,
		Progress:      store.ComputeProgress(p.Tasks),

		StartDate:       sched.Start,
		ProjectedFinish: sched.Finish,
		Deadline:        sched.Deadline,
		Risks:           p.Risks,
		Recommendations: p.Recommendations,
	}
	if !p.CreatedAt.IsZero() {
		meta.CreatedAt = p.CreatedAt.Format(time.RFC3339)
	}

	return &Graph{
		Nodes:        nodes,
		Edges:        edges,
		CriticalPath: res.CriticalPath,
		Metadata:     meta,
	}
}

// --- HTTP server ---

// Config configures the read-only project API.
type Config struct {
	Store    store.Store
	Gatherer prometheus.Gatherer // serves /metrics when set
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// MaxRejectRatio is passed to validation of POST /graph bodies.
	MaxRejectRatio float64
}

type server struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	ratio   float64
}

// NewHandler returns the API routes:
//
//	GET  /healthz
//	GET  /projects   (?search= and ?status= narrow the list)
//	GET  /projects/{id}/graph
//	GET  /stats
//	POST /graph      (generator-shaped JSON, validated and analysed)
//	GET  /metrics
func NewHandler(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	srv := &server{store: cfg.Store, metrics: cfg.Metrics, logger: logger, ratio: cfg.MaxRejectRatio}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "ok\n")
	})
	mux.HandleFunc("POST /graph", srv.handlePostGraph)
	if cfg.Store != nil {
		mux.HandleFunc("GET /projects", srv.handleProjects)
		mux.HandleFunc("GET /projects/{id}/graph", srv.handleProjectGraph)
		mux.HandleFunc("GET /stats", srv.handleStats)
	}
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", metrics.HandlerFor(cfg.Gatherer))
	}
	return mux
}

func (s *server) handleProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.Projects(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	q := r.URL.Query()
	list = store.FilterProjects(list, store.ProjectFilter{Search: q.Get("search"), Status: q.Get("status")})
	writeJSON(w, http.StatusOK, list)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := store.ComputeStats(r.Context(), s.store)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) handleProjectGraph(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("invalid project id %q", r.PathValue("id")))
		return
	}

	proj, err := s.store.Project(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	res, err := cpm.AnalyzeObserved(&proj.Plan, s.metrics)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ToGraph(proj.ID, &proj.Plan, res))
}

func (s *server) handlePostGraph(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxBody {
		s.fail(w, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", maxBody))
		return
	}

	p, v, err := planner.ValidateAndResolve(body, planner.ValidateOptions{MaxRejectRatio: s.ratio})
	if err != nil {
		var malformed *plan.MalformedPlanError
		var cyclic *plan.CyclicDependencyError
		if errors.As(err, &malformed) || errors.As(err, &cyclic) {
			s.fail(w, http.StatusUnprocessableEntity, err)
			return
		}
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.metrics.RecordValidation(len(v.Rejected), len(v.Dropped))

	res, err := cpm.AnalyzeObserved(p, s.metrics)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	p.Goal = r.URL.Query().Get("goal")
	p.Deadline = r.URL.Query().Get("deadline")

	writeJSON(w, http.StatusCreated, struct {
		*Graph
		Validation *planner.Validation `json:"validation"`
	}{ToGraph(0, p, res), v})
}

func (s *server) fail(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", code, "error", err)
	} else {
		s.logger.Debug("request rejected", "status", code, "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Serve listens on addr and serves handler until ctx is cancelled, then shuts
// down gracefully. ready, if non-nil, receives the bound address.
func Serve(ctx context.Context, addr string, handler http.Handler, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if ready != nil {
		ready(ln.Addr())
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
