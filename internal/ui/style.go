package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/joshharrison/goalplan/internal/plan"
)

// Sprint color functions for building styled strings.
var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow  = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
	BoldWhite   = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// PrintBanner renders the goalplan header to w.
func PrintBanner(w io.Writer) {
	frame := color.New(color.FgCyan)
	nodes := color.New(color.FgYellow)
	brand := color.New(color.Bold, color.FgMagenta)

	fmt.Fprintln(w)
	frame.Fprintln(w, "   +-----------------------------+")
	nodes.Fprintln(w, "   |  o--o--o     o--o           |")
	nodes.Fprintln(w, "   |         \\   /    \\          |")
	nodes.Fprintln(w, "   |          o-o------o--o      |")
	brand.Fprintln(w, "   |   G O A L P L A N           |")
	frame.Fprintln(w, "   +-----------------------------+")
	fmt.Fprintf(w, "   %s\n\n", Dim("Goal planning and critical path analysis"))
}

// Error prints a red error line to w.
func Error(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", BoldRed("error:"), err)
}

// taskColors is a palette of distinct bold colors for differentiating tasks.
var taskColors = []func(a ...interface{}) string{
	BoldMagenta,
	BoldCyan,
	BoldYellow,
	BoldGreen,
	color.New(color.Bold, color.FgHiBlue).SprintFunc(),
	color.New(color.Bold, color.FgHiRed).SprintFunc(),
}

// taskColorIndex hashes a task ID to a palette index.
func taskColorIndex(taskID string) int {
	var h uint32
	for _, c := range taskID {
		h = h*31 + uint32(c)
	}
	return int(h % uint32(len(taskColors)))
}

// ShortID returns the first eight characters of a task id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// TaskPrefix returns a colored [short-id] prefix string.
// Each task ID gets a stable color from the palette.
func TaskPrefix(taskID string) string {
	c := taskColors[taskColorIndex(taskID)]
	return Dim("[") + c(ShortID(taskID)) + Dim("]")
}

// StatusIcon returns a colored status icon for compact table display.
func StatusIcon(status plan.Status) string {
	switch status {
	case plan.StatusDone:
		return Green("✓")
	case plan.StatusInProgress:
		return Cyan("●")
	case plan.StatusBlocked:
		return Red("✗")
	default:
		return Dim("◌")
	}
}

// PriorityLabel returns a colored priority name.
func PriorityLabel(p plan.Priority) string {
	switch p {
	case plan.PriorityCritical:
		return BoldRed(string(p))
	case plan.PriorityHigh:
		return Yellow(string(p))
	case plan.PriorityLow:
		return Dim(string(p))
	default:
		return string(p)
	}
}

// SourceLabel returns a colored plan source.
func SourceLabel(s plan.Source) string {
	switch s {
	case plan.SourceGenerated:
		return Green(string(s))
	case plan.SourceFallback:
		return BoldYellow(string(s))
	default:
		return Cyan(string(s))
	}
}
