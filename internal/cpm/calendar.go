package cpm

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the format of deadlines and task dates.
const DateLayout = time.DateOnly

// TaskDates are the calendar days a task starts and ends on.
type TaskDates struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

// Calendar places schedule offsets, in days, onto calendar dates counted from
// the day a plan starts. A task starting at day 1.5 starts on the second day
// and one finishing at day 2.5 ends on the third.
type Calendar struct {
	start time.Time
}

// NewCalendar starts a calendar on the UTC date of start. A zero start means
// today.
func NewCalendar(start time.Time) Calendar {
	if start.IsZero() {
		start = time.Now()
	}
	y, m, d := start.UTC().Date()
	return Calendar{start: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Start returns the first day of the calendar.
func (c Calendar) Start() time.Time { return c.start }

func (c Calendar) floor(offset float64) time.Time {
	return c.start.AddDate(0, 0, int(math.Floor(offset+Epsilon)))
}

func (c Calendar) ceil(offset float64) time.Time {
	return c.start.AddDate(0, 0, int(math.Ceil(offset-Epsilon)))
}

// Task returns the dates of one scheduled task.
func (c Calendar) Task(ts *TaskSchedule) TaskDates {
	return TaskDates{
		Start: c.floor(ts.ES).Format(DateLayout),
		End:   c.ceil(ts.EF).Format(DateLayout),
	}
}

// Dates returns the dates of every task in r, keyed by task id.
func (c Calendar) Dates(r *Result) map[string]TaskDates {
	out := make(map[string]TaskDates, len(r.Tasks))
	for id, ts := range r.Tasks {
		out[id] = c.Task(ts)
	}
	return out
}

// Finish is the day the whole plan is done.
func (c Calendar) Finish(r *Result) time.Time {
	return c.ceil(r.TotalDuration)
}

// DeadlineCheck compares a plan's projected finish with its deadline.
type DeadlineCheck struct {
	Deadline      string  `json:"deadline"`
	Finish        string  `json:"projected_finish"`
	AvailableDays float64 `json:"available_days"`
	OverrunDays   float64 `json:"overrun_days"` // 0 when the plan fits
}

// Overrun reports whether the plan finishes after the deadline.
func (d *DeadlineCheck) Overrun() bool { return d.OverrunDays > 0 }

// CheckDeadline returns nil when deadline is blank.
func (c Calendar) CheckDeadline(deadline string, r *Result) (*DeadlineCheck, error) {
	deadline = strings.TrimSpace(deadline)
	if deadline == "" {
		return nil, nil
	}
	due, err := time.Parse(DateLayout, deadline)
	if err != nil {
		return nil, fmt.Errorf("parse deadline %q: %w", deadline, err)
	}

	check := &DeadlineCheck{
		Deadline:      due.Format(DateLayout),
		Finish:        c.Finish(r).Format(DateLayout),
		AvailableDays: math.Round(due.Sub(c.start).Hours() / 24),
	}
	if r.TotalDuration > check.AvailableDays+Epsilon {
		check.OverrunDays = r.TotalDuration - check.AvailableDays
	}
	return check, nil
}

// Schedule bundles per-task dates with the deadline check for output.
type Schedule struct {
	Start    string               `json:"start_date"`
	Finish   string               `json:"projected_finish"`
	Tasks    map[string]TaskDates `json:"tasks"`
	Deadline *DeadlineCheck       `json:"deadline,omitempty"`
}

// ScheduleFor maps r onto the calendar starting at start. An unparseable
// deadline leaves Deadline nil.
func ScheduleFor(start time.Time, deadline string, r *Result) *Schedule {
	c := NewCalendar(start)
	s := &Schedule{
		Start:  c.Start().Format(DateLayout),
		Finish: c.Finish(r).Format(DateLayout),
		Tasks:  c.Dates(r),
	}
	s.Deadline, _ = c.CheckDeadline(deadline, r)
	return s
}
