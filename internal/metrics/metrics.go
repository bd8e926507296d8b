package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for goalplan.
type Metrics struct {
	// Plan generation metrics
	PlanGenerations *prometheus.CounterVec
	PlanTaskCount   *prometheus.HistogramVec
	Fallbacks       *prometheus.CounterVec

	// Generator (language model) call metrics
	GeneratorCalls   *prometheus.CounterVec
	GeneratorLatency *prometheus.HistogramVec

	// Validation metrics
	RejectedRecords   prometheus.Counter
	DroppedReferences prometheus.Counter

	// Analysis metrics
	Analyses        *prometheus.CounterVec
	AnalysisLatency prometheus.Histogram

	// Store operation metrics
	StoreOperations *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		PlanGenerations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalplan_plan_generations_total",
				Help: "Total number of plan generations by source",
			},
			[]string{"source"},
		),
		PlanTaskCount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goalplan_plan_task_count",
				Help:    "Number of tasks in generated plans",
				Buckets: []float64{1, 3, 5, 10, 15, 20, 30, 50},
			},
			[]string{"source"},
		),
		Fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalplan_fallbacks_total",
				Help: "Total number of fallback plans by failure reason",
			},
			[]string{"reason"},
		),

		GeneratorCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalplan_generator_calls_total",
				Help: "Total number of text generator calls",
			},
			[]string{"success"},
		),
		GeneratorLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goalplan_generator_latency_seconds",
				Help:    "Text generator call latency in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"success"},
		),

		RejectedRecords: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "goalplan_rejected_records_total",
				Help: "Total number of generator task records rejected by schema validation",
			},
		),
		DroppedReferences: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "goalplan_dropped_references_total",
				Help: "Total number of unresolvable dependency references dropped",
			},
		),

		Analyses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalplan_analyses_total",
				Help: "Total number of critical path analyses",
			},
			[]string{"success"},
		),
		AnalysisLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "goalplan_analysis_duration_seconds",
				Help:    "Critical path analysis duration in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),

		StoreOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goalplan_store_operations_total",
				Help: "Total number of project store operations",
			},
			[]string{"operation", "success"},
		),
	}
}

// The Record helpers accept a nil receiver so callers can run without metrics.

// RecordGeneration counts a finished plan generation.
func (m *Metrics) RecordGeneration(source string, tasks int) {
	if m == nil {
		return
	}
	m.PlanGenerations.WithLabelValues(source).Inc()
	m.PlanTaskCount.WithLabelValues(source).Observe(float64(tasks))
}

// RecordFallback counts a fallback by reason.
func (m *Metrics) RecordFallback(reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(reason).Inc()
}

// ObserveGenerator records one text generator call.
func (m *Metrics) ObserveGenerator(success bool, seconds float64) {
	if m == nil {
		return
	}
	m.GeneratorCalls.WithLabelValues(boolLabel(success)).Inc()
	m.GeneratorLatency.WithLabelValues(boolLabel(success)).Observe(seconds)
}

// RecordValidation adds rejected records and dropped references.
func (m *Metrics) RecordValidation(rejected, dropped int) {
	if m == nil {
		return
	}
	m.RejectedRecords.Add(float64(rejected))
	m.DroppedReferences.Add(float64(dropped))
}

// ObserveAnalysis records one critical path analysis.
func (m *Metrics) ObserveAnalysis(success bool, seconds float64) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues(boolLabel(success)).Inc()
	m.AnalysisLatency.Observe(seconds)
}

// RecordStoreOp counts a store operation.
func (m *Metrics) RecordStoreOp(op string, err error) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(op, boolLabel(err == nil)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
