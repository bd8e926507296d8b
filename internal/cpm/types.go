package cpm

// Result holds the complete critical path analysis of one plan.
// It is derived data: recompute it after any task edit.
type Result struct {
	Tasks         map[string]*TaskSchedule `json:"tasks"`
	CriticalPath  []string                 `json:"critical_path"` // ordered task IDs, source to sink
	TotalDuration float64                  `json:"total_duration"`
	Waves         []Wave                   `json:"waves"` // parallelizable groups
	TopoOrder     []string                 `json:"order"`
}

// TaskSchedule holds the scheduling info for a single task, in days.
type TaskSchedule struct {
	TaskID     string  `json:"task_id"`
	ES         float64 `json:"earliest_start"`
	EF         float64 `json:"earliest_finish"`
	LS         float64 `json:"latest_start"`
	LF         float64 `json:"latest_finish"`
	Slack      float64 `json:"slack"`
	IsCritical bool    `json:"is_critical"`
	Wave       int     `json:"wave"` // which parallel wave this belongs to
}

// Wave represents a group of tasks that can run in parallel.
type Wave struct {
	Index      int      `json:"index"`
	Start      float64  `json:"start"`
	TaskIDs    []string `json:"task_ids"`
	IsCritical bool     `json:"is_critical"` // true if wave contains critical path tasks
}

// EarliestFinish returns the earliest finish of a task, or 0 if unknown.
func (r *Result) EarliestFinish(id string) float64 {
	if ts, ok := r.Tasks[id]; ok {
		return ts.EF
	}
	return 0
}

// LatestFinish returns the latest finish of a task, or 0 if unknown.
func (r *Result) LatestFinish(id string) float64 {
	if ts, ok := r.Tasks[id]; ok {
		return ts.LF
	}
	return 0
}
