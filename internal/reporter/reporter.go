package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/joshharrison/goalplan/internal/cpm"
	"github.com/joshharrison/goalplan/internal/plan"
	"github.com/joshharrison/goalplan/internal/planner"
	"github.com/joshharrison/goalplan/internal/store"
	"github.com/joshharrison/goalplan/internal/ui"
)

// Reporter renders a plan together with its critical path analysis.
type Reporter struct {
	Plan     *plan.Plan
	Result   *cpm.Result
	Schedule *cpm.Schedule // calendar dates from Plan.CreatedAt; nil without Result
}

// New creates a new Reporter.
func New(p *plan.Plan, result *cpm.Result) *Reporter {
	r := &Reporter{Plan: p, Result: result}
	if result != nil {
		r.Schedule = cpm.ScheduleFor(p.CreatedAt, p.Deadline, result)
	}
	return r
}

// Days formats a duration in days without trailing zeros.
func Days(d float64) string {
	s := strconv.FormatFloat(math.Round(d*100)/100, 'f', -1, 64)
	if s == "1" {
		return "1 day"
	}
	return s + " days"
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}

// PrintPlan writes the plan header and a per-wave task table.
func (r *Reporter) PrintPlan(w io.Writer) {
	p := r.Plan
	fmt.Fprintf(w, "🎯 %s\n", ui.BoldCyan(p.Goal))
	fmt.Fprintln(w, ui.Cyan("═══════════════════════════"))
	fmt.Fprintf(w, "Source:    %s\n", ui.SourceLabel(p.Source))
	if p.Deadline != "" {
		fmt.Fprintf(w, "Deadline:  %s\n", ui.Bold(p.Deadline))
	}
	if p.Context != "" {
		fmt.Fprintf(w, "Context:   %s\n", ui.Dim(truncate(p.Context, 70)))
	}
	fmt.Fprintf(w, "Tasks:     %s (%s of work)\n", ui.Bold(len(p.Tasks)), Days(p.TotalWork()))

	res := r.Result
	if res == nil {
		fmt.Fprintln(w)
		for _, t := range p.Tasks {
			r.printTask(w, t, nil)
		}
		fmt.Fprintln(w)
		printNotes(w, p)
		return
	}

	titles := p.Titles()
	path := make([]string, len(res.CriticalPath))
	for i, id := range res.CriticalPath {
		path[i] = titles[id]
	}
	fmt.Fprintf(w, "Duration:  %s\n", ui.Bold(Days(res.TotalDuration)))
	fmt.Fprintf(w, "Schedule:  📅 %s → %s\n", r.Schedule.Start, ui.Bold(r.Schedule.Finish))
	if dl := r.Schedule.Deadline; dl != nil {
		if dl.Overrun() {
			fmt.Fprintf(w, "%s %s\n", ui.BoldRed("⚠"), ui.Red(fmt.Sprintf("Finishes %s after the %s deadline", Days(dl.OverrunDays), dl.Deadline)))
		} else {
			fmt.Fprintf(w, "%s %s\n", ui.BoldGreen("✓"), ui.Green(fmt.Sprintf("Fits the deadline with %s to spare", Days(dl.AvailableDays-res.TotalDuration))))
		}
	}
	fmt.Fprintf(w, "⚡ Critical path: %s (%d tasks)\n", ui.BoldYellow(strings.Join(path, " → ")), len(path))
	fmt.Fprintln(w)

	for _, wave := range res.Waves {
		start := ui.Dim("independent")
		if wave.Index > 0 {
			start = ui.Dim("starts day " + strconv.FormatFloat(wave.Start, 'g', 4, 64))
		}
		fmt.Fprintf(w, "🌊 %s %d (%d tasks, %s):\n", ui.BoldWhite("Wave"), wave.Index+1, len(wave.TaskIDs), start)
		for _, id := range wave.TaskIDs {
			if t := p.Task(id); t != nil {
				r.printTask(w, *t, res.Tasks[id])
			}
		}
		fmt.Fprintln(w)
	}
	printNotes(w, p)
}

func printNotes(w io.Writer, p *plan.Plan) {
	if len(p.Recommendations) > 0 {
		fmt.Fprintf(w, "💡 %s\n", ui.BoldCyan("Recommendations"))
		for _, rec := range p.Recommendations {
			fmt.Fprintf(w, "  • %s\n", rec)
		}
		fmt.Fprintln(w)
	}
	if len(p.Risks) > 0 {
		fmt.Fprintf(w, "⚠️  %s\n", ui.BoldYellow("Risk factors"))
		for _, risk := range p.Risks {
			fmt.Fprintf(w, "  • %s\n", ui.Yellow(risk))
		}
		fmt.Fprintln(w)
	}
}

func (r *Reporter) printTask(w io.Writer, t plan.Task, ts *cpm.TaskSchedule) {
	crit := " "
	timing := ""
	if ts != nil {
		if ts.IsCritical {
			crit = ui.BoldYellow("⚡")
		}
		timing = ui.Dim(fmt.Sprintf("[%g → %g", ts.ES, ts.EF))
		if ts.Slack > 0 {
			timing += ui.Dim(fmt.Sprintf(", slack %g", ts.Slack))
		}
		timing += ui.Dim("]")
		if d, ok := r.Schedule.Tasks[t.ID]; ok {
			timing += ui.Dim(fmt.Sprintf(" 📅 %s → %s", d.Start, d.End))
		}
	}
	fmt.Fprintf(w, "  %s %s %s %-40s %-8s %8s %s  %s\n",
		ui.StatusIcon(t.Status), ui.TaskPrefix(t.ID), crit, truncate(t.Title, 40),
		ui.PriorityLabel(t.Priority), Days(t.Duration), timing, ui.Dim(t.Category))
}

// PrintASCIIDAG writes each wave with the edges leaving every task.
func (r *Reporter) PrintASCIIDAG(w io.Writer) {
	fmt.Fprintf(w, "🔗 %s\n", ui.BoldCyan("Task Dependency Graph"))
	fmt.Fprintln(w, ui.Cyan("═══════════════════════"))
	fmt.Fprintln(w)

	dependents := make(map[string][]string, len(r.Plan.Tasks))
	for _, t := range r.Plan.Tasks {
		for _, d := range t.Dependencies {
			dependents[d] = append(dependents[d], t.ID)
		}
	}
	titles := r.Plan.Titles()

	for _, wave := range r.Result.Waves {
		fmt.Fprintf(w, "%s 🌊 Wave %d %s\n", ui.Cyan("──"), wave.Index+1, ui.Cyan("──────────────────────────────"))
		for _, id := range wave.TaskIDs {
			crit := " "
			if ts := r.Result.Tasks[id]; ts != nil && ts.IsCritical {
				crit = ui.BoldYellow("⚡")
			}
			fmt.Fprintf(w, "  %s %s %s\n", crit, ui.TaskPrefix(id), titles[id])
			for _, next := range dependents[id] {
				fmt.Fprintf(w, "      %s %s\n", ui.Dim("└──→"), titles[next])
			}
		}
		fmt.Fprintln(w)
	}
}

// WriteDOT writes the plan as a Graphviz digraph with the critical path in red.
func (r *Reporter) WriteDOT(w io.Writer) error {
	critical := func(id string) bool {
		ts := r.Result.Tasks[id]
		return ts != nil && ts.IsCritical
	}

	var b strings.Builder
	b.WriteString("digraph goalplan {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=rounded];\n\n")
	for _, t := range r.Plan.Tasks {
		attrs := fmt.Sprintf("label=%q", fmt.Sprintf("%s\n%s", t.Title, Days(t.Duration)))
		if critical(t.ID) {
			attrs += `, style="rounded,bold", color=red`
		}
		fmt.Fprintf(&b, "  %q [%s];\n", t.ID, attrs)
	}
	b.WriteString("\n")
	for _, t := range r.Plan.Tasks {
		for _, d := range t.Dependencies {
			style := ""
			if critical(d) && critical(t.ID) {
				style = " [color=red, penwidth=2]"
			}
			fmt.Fprintf(&b, "  %q -> %q%s;\n", d, t.ID, style)
		}
	}
	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// JSON returns the plan and its analysis as machine-readable output.
func (r *Reporter) JSON() ([]byte, error) {
	type output struct {
		Plan     *plan.Plan     `json:"plan"`
		Analysis *cpm.Result    `json:"analysis,omitempty"`
		Schedule *cpm.Schedule  `json:"schedule,omitempty"`
		Progress store.Progress `json:"progress"`
	}
	return json.MarshalIndent(output{
		Plan:     r.Plan,
		Analysis: r.Result,
		Schedule: r.Schedule,
		Progress: store.ComputeProgress(r.Plan.Tasks),
	}, "", "  ")
}

// PrintDiagnostics explains a fallback and lists any records or references
// that validation discarded.
func PrintDiagnostics(w io.Writer, d planner.Diagnostics) {
	if d.Fallback {
		fmt.Fprintf(w, "%s generation failed (%s), using the fallback plan\n",
			ui.BoldYellow("⚠"), ui.Yellow(string(d.Reason)))
		if d.Detail != "" {
			fmt.Fprintf(w, "  %s\n", ui.Dim(d.Detail))
		}
	}
	for _, rec := range d.Rejected {
		fmt.Fprintf(w, "  %s %s\n", ui.Yellow("skipped"), rec.String())
	}
	for _, drop := range d.Dropped {
		fmt.Fprintf(w, "  %s %q on %q: %s\n", ui.Yellow("dropped dependency"), drop.Ref, drop.Task, drop.Reason)
	}
	if d.Fallback || len(d.Rejected) > 0 || len(d.Dropped) > 0 {
		fmt.Fprintln(w)
	}
}

// PrintProgress writes a one-line completion bar.
func PrintProgress(w io.Writer, p store.Progress) {
	const width = 20
	filled := 0
	if p.Total > 0 {
		filled = p.Done * width / p.Total
	}
	bar := ui.Green(strings.Repeat("█", filled)) + ui.Dim(strings.Repeat("░", width-filled))
	fmt.Fprintf(w, "Progress:  %s %s  %d/%d done", bar, ui.Bold(fmt.Sprintf("%.0f%%", p.Percent)), p.Done, p.Total)
	if p.InProgress > 0 {
		fmt.Fprintf(w, ", %s", ui.Cyan(fmt.Sprintf("%d in progress", p.InProgress)))
	}
	if p.Blocked > 0 {
		fmt.Fprintf(w, ", %s", ui.Red(fmt.Sprintf("%d blocked", p.Blocked)))
	}
	fmt.Fprintln(w)
}

// PrintProjects writes a project listing table.
func PrintProjects(w io.Writer, projects []store.ProjectSummary) {
	if len(projects) == 0 {
		fmt.Fprintln(w, ui.Dim("No projects yet. Create one with: goalplan plan \"<goal>\" --save"))
		return
	}
	fmt.Fprintf(w, "%s\n", ui.BoldCyan("Projects"))
	fmt.Fprintln(w, ui.Cyan("════════"))
	for _, p := range projects {
		deadline := ""
		if p.Deadline != "" {
			deadline = ui.Dim("due " + p.Deadline)
		}
		fmt.Fprintf(w, "  %s  %-40s %-9s %5.0f%%  %s %s\n",
			ui.BoldMagenta(fmt.Sprintf("#%d", p.ID)), truncate(p.Goal, 40), ui.SourceLabel(p.Source),
			p.Progress.Percent, ui.Dim(p.CreatedAt.Local().Format("2006-01-02")), deadline)
	}
}

// PrintStats renders the totals across every stored project.
func PrintStats(w io.Writer, st *store.Stats) {
	fmt.Fprintf(w, "%s\n", ui.BoldCyan("📊 Statistics"))
	fmt.Fprintln(w, ui.Cyan("═════════════"))
	fmt.Fprintf(w, "Projects:  %s (%d active, %d completed)\n", ui.Bold(fmt.Sprint(st.Projects)), st.Active, st.Completed)
	fmt.Fprintf(w, "Tasks:     %s (%d done, %.1f%% complete)\n", ui.Bold(fmt.Sprint(st.Tasks)), st.Done, st.CompletionRate)
	if st.Tasks == 0 {
		return
	}

	fmt.Fprintf(w, "\n%s\n", ui.Bold("By status"))
	for _, s := range []plan.Status{plan.StatusPending, plan.StatusInProgress, plan.StatusDone, plan.StatusBlocked} {
		if n := st.ByStatus[s]; n > 0 {
			fmt.Fprintf(w, "  %s %-12s %d\n", ui.StatusIcon(s), s, n)
		}
	}
	fmt.Fprintf(w, "\n%s\n", ui.Bold("By priority"))
	for _, p := range []plan.Priority{plan.PriorityCritical, plan.PriorityHigh, plan.PriorityMedium, plan.PriorityLow} {
		if n := st.ByPriority[p]; n > 0 {
			fmt.Fprintf(w, "  %s %d\n", ui.PriorityLabel(p), n)
		}
	}
}
